package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "scriptwatch/pkg/logx"
)

const (
	watchRetryMin = 250 * time.Millisecond
	watchRetryMax = 5 * time.Second
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Watch reloads the file after it changes until ctx is done. It watches the
// parent directory so that editors replacing the file are seen, and recreates
// the watcher if fsnotify fails.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	retry := watchRetryMin
	for {
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := retry + rand.N(retry/2+1)
		m.log.Warn("config watcher failed; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		retry = min(retry*2, watchRetryMax)
	}
}

// watchOnce runs one watcher. Reloads run on this goroutine after the file
// has been quiet for the debounce period.
func (m *Manager) watchOnce(ctx context.Context) error {
	dir, name := filepath.Split(m.path)
	if dir == "" {
		dir = "."
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()
	arm := func() { quiet.Reset(m.debounce) }

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-quiet.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if filepath.Base(ev.Name) == name && ev.Op&relevantOps != 0 {
				arm()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return errors.New("error channel closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events may be lost; reread once
				arm()
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}
	}
}
