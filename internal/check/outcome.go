package check

// ScriptID identifies one script: its file name inside the scripts directory.
type ScriptID string

// FailureKind classifies why a run failed.
type FailureKind string

const (
	KindExecution       FailureKind = "execution"
	KindInvalidManifest FailureKind = "invalid_manifest"
	KindDecode          FailureKind = "decode"
	KindInterpretation  FailureKind = "interpretation"
	KindTimeout         FailureKind = "timeout"
)

// Outcome is either Success or Failure.
type Outcome interface {
	// NotificationText is the human-readable message body for this outcome.
	NotificationText() string
	isOutcome()
}

// Success carries the notification text (stdout minus the manifest line)
// and the parsed manifest.
type Success struct {
	Text     string
	Manifest Manifest
}

// Failure carries the notification text describing the fault.
type Failure struct {
	Text string
	Kind FailureKind
}

func (s Success) NotificationText() string { return s.Text }
func (f Failure) NotificationText() string { return f.Text }

func (Success) isOutcome() {}
func (Failure) isOutcome() {}

// ManifestOf returns the manifest carried by o, if any.
func ManifestOf(o Outcome) (Manifest, bool) {
	s, ok := o.(Success)
	if !ok {
		return Manifest{}, false
	}
	return s.Manifest, true
}

// IsSuccess reports whether o is a Success.
func IsSuccess(o Outcome) bool {
	_, ok := o.(Success)
	return ok
}
