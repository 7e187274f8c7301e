package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

// Logger is passed by value. The zero value discards everything; a Logger
// obtained from a Service picks up every later Service.Apply.
type Logger struct {
	svc    *Service
	static *zerolog.Logger
	fields []Field
}

// Nop discards everything but, unlike the zero value, is not IsZero.
func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{static: &zl}
}

// NewConsole is a standalone stderr logger for one-shot CLI commands.
func NewConsole(level string) Logger {
	configureZerolog()
	zl := zerolog.New(consoleWriter(stderr)).Level(levelOr(level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return Logger{static: &zl}
}

// NewWriter is a JSON logger on w, mainly for tests.
func NewWriter(w io.Writer, level string) Logger {
	configureZerolog()
	zl := zerolog.New(w).Level(levelOr(level, zerolog.DebugLevel)).With().Timestamp().Logger()
	return Logger{static: &zl}
}

// IsZero reports whether l is the unconfigured zero value.
func (l Logger) IsZero() bool { return l.svc == nil && l.static == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.static != nil:
		return *l.static
	}
	return zerolog.Nop()
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// skip emit and the level method
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, set := range [][]Field{l.fields, fields} {
		for _, f := range set {
			if f != nil {
				f(e)
			}
		}
	}
	e.Msg(msg)
}
