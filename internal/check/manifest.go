package check

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// ErrInvalidManifest is returned by ParseManifest for any malformed manifest line.
var ErrInvalidManifest = errors.New("invalid manifest")

// maxIntervalSeconds keeps Interval representable as a time.Duration.
const maxIntervalSeconds = math.MaxInt64 / int64(time.Second)

// Manifest is the scheduling directive a script emits on success.
// It is immutable; the next successful run produces a new one.
type Manifest struct {
	Interval      time.Duration
	LastRun       time.Time
	OnlyIfChanged bool
}

// ReadyAt is the earliest time the script may run again.
func (m Manifest) ReadyAt() time.Time { return m.LastRun.Add(m.Interval) }

// SleepingAt reports whether the script is still not due at now.
func (m Manifest) SleepingAt(now time.Time) bool { return now.Before(m.ReadyAt()) }

// ParseManifest decodes the first stdout line of a script.
//
// The line must be a single JSON object carrying an integer "interval" > 0
// (seconds) and a boolean "only_if_changed". Other keys are ignored.
// LastRun is set to now, the interpretation time.
func ParseManifest(line string, now time.Time) (Manifest, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if fields == nil {
		return Manifest{}, fmt.Errorf("%w: not an object", ErrInvalidManifest)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Manifest{}, fmt.Errorf("%w: trailing data", ErrInvalidManifest)
	}

	rawInterval, ok := fields["interval"]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: missing interval", ErrInvalidManifest)
	}
	rawChanged, ok := fields["only_if_changed"]
	if !ok {
		return Manifest{}, fmt.Errorf("%w: missing only_if_changed", ErrInvalidManifest)
	}

	interval, err := parseInterval(rawInterval)
	if err != nil {
		return Manifest{}, err
	}
	if isNull(rawChanged) {
		return Manifest{}, fmt.Errorf("%w: only_if_changed must be a boolean", ErrInvalidManifest)
	}
	var onlyIfChanged bool
	if err := json.Unmarshal(rawChanged, &onlyIfChanged); err != nil {
		return Manifest{}, fmt.Errorf("%w: only_if_changed must be a boolean", ErrInvalidManifest)
	}

	return Manifest{
		Interval:      time.Duration(interval) * time.Second,
		LastRun:       now,
		OnlyIfChanged: onlyIfChanged,
	}, nil
}

func parseInterval(raw json.RawMessage) (int64, error) {
	// Only integer literals: 60.0, "60", true and null are all rejected.
	if isNull(raw) {
		return 0, fmt.Errorf("%w: interval must be an integer", ErrInvalidManifest)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: interval must be an integer", ErrInvalidManifest)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: interval must be > 0, got %d", ErrInvalidManifest, n)
	}
	if n > maxIntervalSeconds {
		return 0, fmt.Errorf("%w: interval %d out of range", ErrInvalidManifest, n)
	}
	return n, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
