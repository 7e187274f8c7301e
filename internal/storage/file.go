package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "scriptwatch/pkg/logx"
)

// fileStore appends runs as JSON lines to storage.path and serves RecentRuns
// from an in-memory tail. The file is rewritten down to Keep records on open
// and whenever it reaches twice that.
type fileStore struct {
	log  logx.Logger
	path string
	keep int

	mu      sync.Mutex
	out     *os.File
	written int         // records in the file
	tail    []RunRecord // newest last
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := filepath.Clean(strings.TrimSpace(cfg.Path))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	fs := &fileStore{log: log, path: path, keep: cfg.Keep}

	if err := fs.replay(); err != nil {
		return nil, err
	}
	if fs.written > fs.keep {
		if err := fs.rewrite(); err != nil {
			return nil, err
		}
		return fs, nil
	}
	out, err := os.OpenFile(fs.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	fs.out = out
	return fs, nil
}

// replay loads the tail of an existing file. Undecodable lines count toward
// the file size but are skipped.
func (fs *fileStore) replay() error {
	in, err := os.Open(fs.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()

	r := bufio.NewReaderSize(in, 64<<10)
	for {
		line, err := r.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			fs.written++
			var rec RunRecord
			if json.Unmarshal(line, &rec) == nil {
				fs.push(rec)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", fs.path, err)
		}
	}
}

func (fs *fileStore) push(r RunRecord) {
	if len(fs.tail) == fs.keep {
		copy(fs.tail, fs.tail[1:])
		fs.tail = fs.tail[:len(fs.tail)-1]
	}
	fs.tail = append(fs.tail, r)
}

func (fs *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	r.Text = truncateText(r.Text)
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.out == nil {
		return ErrClosed
	}
	if _, err := fs.out.Write(line); err != nil {
		return err
	}
	fs.written++
	fs.push(r)

	if fs.written >= 2*fs.keep {
		if err := fs.rewrite(); err != nil {
			fs.log.Warn("run history compaction failed", logx.String("path", fs.path), logx.Err(err))
		}
	}
	return nil
}

func (fs *fileStore) RecentRuns(_ context.Context, limit int) ([]RunRecord, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := len(fs.tail)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RunRecord, n)
	for i := range out {
		out[i] = fs.tail[len(fs.tail)-1-i]
	}
	return out, nil
}

// rewrite replaces the file with the in-memory tail and reopens it for
// appending. Called with mu held, or before the store is shared.
func (fs *fileStore) rewrite() error {
	tmp, err := os.CreateTemp(filepath.Dir(fs.path), ".runs-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, r := range fs.tail {
		if err = enc.Encode(r); err != nil {
			break
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), fs.path); err != nil {
		return err
	}

	out, err := os.OpenFile(fs.path, os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if fs.out != nil {
		_ = fs.out.Close()
	}
	fs.out = out
	fs.written = len(fs.tail)
	return nil
}

func (fs *fileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.out == nil {
		return nil
	}
	err := fs.out.Close()
	fs.out = nil
	return err
}
