package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Config selects the level and sinks.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// DefaultFilePath is used when the file sink is enabled without a path.
const DefaultFilePath = "./scriptwatch.log"

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

var stderr io.Writer = os.Stderr

// Service owns the sinks. Apply swaps them atomically for every Logger
// derived from it.
type Service struct {
	mu   sync.Mutex
	file *os.File
	cur  atomic.Pointer[zerolog.Logger]
}

func New(cfg Config) (*Service, Logger) {
	configureZerolog()
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.cur.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks from cfg. Safe for concurrent use. With no sink
// enabled it falls back to the console.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, consoleWriter(stderr))
	}

	var next *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = DefaultFilePath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(stderr, "logx: open %s: %v\n", path, err)
		} else {
			next = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(stderr))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(levelOr(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.cur.Store(&zl)

	// close the previous file only after the new logger is live
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = next
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

var globalsOnce sync.Once

func configureZerolog() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// ValidLevel reports whether s names a level ("" counts as the default).
func ValidLevel(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	return levelOr(s, zerolog.NoLevel) != zerolog.NoLevel
}

func levelOr(s string, def zerolog.Level) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return def
}
