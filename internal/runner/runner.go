// Package runner executes check scripts as external processes.
//
// Each script runs with the scripts directory as working directory, no
// stdin, separately captured stdout/stderr and a hard timeout. A timed-out
// script is killed together with its process group before Run returns.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"scriptwatch/internal/check"
	logx "scriptwatch/pkg/logx"
)

// DefaultTimeout matches the historical bound: large enough to never
// trigger for a healthy check.
const DefaultTimeout = 5000 * time.Second

// Exit codes reported when the process produced no usable exit status.
const (
	ExitStartFailed = -1
	ExitTimeout     = -2
)

var (
	ErrTimeout = errors.New("script timed out")
	ErrStart   = errors.New("script failed to start")
)

// Result is the raw result of one execution.
type Result struct {
	ID        check.ScriptID
	Raw       check.Raw
	StartedAt time.Time
	Duration  time.Duration
	// Err is set when the process could not be started, timed out, or the
	// run was cancelled. A non-zero exit code alone is not an error.
	Err error
}

// Outcome converts the result into a check outcome at interpretation time now.
func (r Result) Outcome(now time.Time) check.Outcome {
	switch {
	case errors.Is(r.Err, ErrTimeout):
		return check.Failure{Text: fmt.Sprintf("Timed out after %s", r.Duration.Round(time.Second)), Kind: check.KindTimeout}
	case errors.Is(r.Err, ErrStart):
		return check.Failure{Text: fmt.Sprintf("Failed (%d): %v", r.Raw.ExitCode, r.Err), Kind: check.KindExecution}
	case r.Err != nil:
		return check.Failure{Text: fmt.Sprintf("Failed: %v", r.Err), Kind: check.KindExecution}
	}
	return check.SafeInterpret(r.Raw, now)
}

// Exec runs scripts from a directory.
type Exec struct {
	dir     string
	timeout atomic.Int64
	log     logx.Logger
}

func New(dir string, timeout time.Duration, log logx.Logger) *Exec {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Exec{dir: dir, log: log}
	e.SetTimeout(timeout)
	return e
}

func (e *Exec) Dir() string { return e.dir }

// SetTimeout changes the bound for subsequent runs. Non-positive values
// restore DefaultTimeout.
func (e *Exec) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	e.timeout.Store(int64(d))
}

func (e *Exec) Timeout() time.Duration { return time.Duration(e.timeout.Load()) }

// List returns every regular file in the scripts directory (symlinks are
// followed), sorted by name.
func (e *Exec) List(ctx context.Context) ([]check.ScriptID, error) {
	_ = ctx
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir %s: %w", e.dir, err)
	}
	out := make([]check.ScriptID, 0, len(entries))
	for _, ent := range entries {
		mode := ent.Type()
		if mode&fs.ModeSymlink != 0 {
			st, err := os.Stat(filepath.Join(e.dir, ent.Name()))
			if err != nil {
				continue
			}
			mode = st.Mode()
		}
		if !mode.IsRegular() {
			continue
		}
		out = append(out, check.ScriptID(ent.Name()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Run executes one script and waits for it to finish or time out.
func (e *Exec) Run(ctx context.Context, id check.ScriptID) Result {
	timeout := e.Timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path, err := filepath.Abs(filepath.Join(e.dir, string(id)))
	if err != nil {
		return Result{ID: id, Raw: check.Raw{ExitCode: ExitStartFailed}, StartedAt: time.Now(), Err: fmt.Errorf("%w: %v", ErrStart, err)}
	}

	cmd := exec.CommandContext(runCtx, path)
	cmd.Args = []string{string(id)}
	cmd.Dir = e.dir
	cmd.Stdin = nil
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	configureKill(cmd)
	// Don't wait forever on pipes held open by orphaned grandchildren.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ID: id, Raw: check.Raw{ExitCode: ExitStartFailed}, StartedAt: start, Err: fmt.Errorf("%w: %v", ErrStart, err)}
	}
	waitErr := cmd.Wait()
	took := time.Since(start)

	res := Result{ID: id, StartedAt: start, Duration: took}

	if runCtx.Err() != nil {
		res.Raw.ExitCode = ExitTimeout
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		} else {
			res.Err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		e.log.Warn("script killed", logx.String("script", string(id)), logx.Duration("took", took), logx.Err(res.Err))
		return res
	}

	res.Raw.ExitCode = exitCode(cmd.ProcessState, waitErr)
	res.Raw.Stdout, res.Raw.Stderr = decodeOutput(stdout.Bytes(), stderr.Bytes(), &res.Raw.ExitCode)
	return res
}

// decodeOutput turns captured bytes into text. Invalid UTF-8 on stdout drops
// all lines and forces the decode sentinel exit code; invalid stderr is dropped.
func decodeOutput(stdout, stderr []byte, exit *int) ([]string, string) {
	var lines []string
	if utf8.Valid(stdout) {
		lines = check.SplitStdout(string(stdout))
	} else {
		*exit = check.ExitDecodeError
	}
	errText := ""
	if utf8.Valid(stderr) {
		errText = string(stderr)
	}
	return lines, errText
}

func exitCode(ps *os.ProcessState, waitErr error) int {
	if ps == nil {
		if waitErr != nil {
			return ExitStartFailed
		}
		return 0
	}
	if code := ps.ExitCode(); code >= 0 {
		return code
	}
	return signalExitCode(ps)
}
