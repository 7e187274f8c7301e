package check

import (
	"fmt"
	"strings"
	"time"
)

// ExitDecodeError is the exit code the runner reports when stdout was not
// valid UTF-8.
const ExitDecodeError = 1337

// Raw is the captured result of one script execution.
type Raw struct {
	ExitCode int
	Stdout   []string
	Stderr   string
}

// SplitStdout normalizes captured stdout into lines: surrounding whitespace is
// trimmed before splitting, so empty output still yields one empty line.
func SplitStdout(out string) []string {
	return strings.Split(strings.TrimSpace(out), "\n")
}

// Interpret decides success or failure for one run.
//
// Any of non-empty stderr, non-zero exit code or empty stdout is a failure on
// its own. Otherwise the first stdout line must be a valid manifest.
func Interpret(raw Raw, now time.Time) Outcome {
	if raw.Stderr != "" || raw.ExitCode != 0 || len(raw.Stdout) == 0 {
		kind := KindExecution
		if raw.ExitCode == ExitDecodeError {
			kind = KindDecode
		}
		return Failure{
			Text: fmt.Sprintf("Failed (%d): stdout %q, stderr %s", raw.ExitCode, raw.Stdout, raw.Stderr),
			Kind: kind,
		}
	}

	m, err := ParseManifest(raw.Stdout[0], now)
	if err != nil {
		return Failure{Text: "Invalid manifest", Kind: KindInvalidManifest}
	}
	return Success{Text: strings.Join(raw.Stdout[1:], "\n"), Manifest: m}
}

// SafeInterpret is Interpret behind a recover boundary: it never panics and
// converts any internal fault into a Failure carrying the cause.
func SafeInterpret(raw Raw, now time.Time) Outcome {
	return safeCall(func() Outcome { return Interpret(raw, now) })
}

func safeCall(fn func() Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure{Text: fmt.Sprintf("Exception: %v", r), Kind: KindInterpretation}
		}
	}()
	return fn()
}
