package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	assert.False(t, Nop().IsZero())
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Error("dropped")
}

func TestWriterFieldsAndCaller(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	l.Info("pass finished",
		Int("ok", 3),
		Bool("skipped", false),
		Duration("took", 1500*time.Millisecond),
		Err(errors.New("boom")),
		Err(nil),
	)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "pass finished", rec["message"])
	assert.Equal(t, "scheduler", rec["comp"])
	assert.Equal(t, float64(3), rec["ok"])
	assert.Equal(t, "boom", rec["err"])
	assert.True(t, strings.HasPrefix(rec["caller"].(string), "logx_test.go:"), rec["caller"])
}

func TestWriterLevelFilter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")
	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "shown")
}

func TestServiceApplySwitchesFileSink(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	defer svc.Close()
	log = log.With(String("comp", "test"))

	log.Info("to first")
	log.Debug("below level")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: second}})
	log.Debug("to second")

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(a), "to first")
	assert.NotContains(t, string(a), "below level")
	assert.Contains(t, string(b), "to second")
	assert.NotContains(t, string(b), "to first")
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "info", "DEBUG", " warning ", "trace", "error"} {
		assert.True(t, ValidLevel(s), s)
	}
	for _, s := range []string{"verbose", "fatal", "2"} {
		assert.False(t, ValidLevel(s), s)
	}
}
