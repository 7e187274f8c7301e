package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func writeFixture(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	root := t.TempDir()
	scripts := filepath.Join(root, "scripts")
	require.NoError(t, os.Mkdir(scripts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "broken.sh"), []byte("#!/bin/sh\necho broken\nexit 3\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "healthy.sh"), []byte("#!/bin/sh\necho '{\"interval\": 3600, \"only_if_changed\": false}'\n"), 0o755))

	dbPath = filepath.Join(root, "runs.jsonl")
	cfgPath = filepath.Join(root, "config.yaml")
	cfg := strings.Join([]string{
		"scripts:",
		"  dir: " + scripts,
		"  min_pass_gap: 10ms",
		"  timeout: 5s",
		"notify:",
		"  backend: test",
		"logging:",
		"  level: error",
		"storage:",
		"  driver: file",
		"  path: " + dbPath,
		"systemd:",
		"  notify: false",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, dbPath
}

func TestAppRunsPassAndRecords(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts")
	}
	t.Setenv("BACKEND", "")
	t.Setenv("SCRIPTS_DIR", "")
	cfgPath, dbPath := writeFixture(t)

	out := &syncBuffer{}
	a, err := newApp(cfgPath, out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Failed (3)")
	}, 10*time.Second, 20*time.Millisecond)

	snap := a.sched.Snapshot()
	assert.NotEmpty(t, snap.Failing)

	seen := map[string]bool{}
	require.Eventually(t, func() bool {
		recs, err := a.store.RecentRuns(context.Background(), 10)
		if err != nil {
			return false
		}
		for _, r := range recs {
			seen[r.Script] = r.Success
		}
		return len(seen) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.False(t, seen["broken.sh"])
	assert.True(t, seen["healthy.sh"])

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestNewRejectsMissingScriptsDir(t *testing.T) {
	t.Setenv("BACKEND", "")
	t.Setenv("SCRIPTS_DIR", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scripts:\n  dir: /nonexistent/scriptwatch\nnotify:\n  backend: test\n"), 0o644))

	_, err := newApp(path, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scripts.dir")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Setenv("BACKEND", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notify:\n  backend: carrier-pigeon\n"), 0o644))

	_, err := newApp(path, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.backend")
}
