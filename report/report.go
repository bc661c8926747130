// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package report

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-core/api"
)

// Reporter receives fatal conditions, warnings and log messages.
type Reporter interface {
	Fatal(err error)
	Warning(op, message string, err error)
	Log(op, message string)
}

var global struct {
	sync.RWMutex
	logger   zerolog.Logger
	reporter Reporter
}

func init() {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	global.logger = l
	global.reporter = NewZerologReporter(l)
}

// SetLogger replaces the package logger. The default reporter is rebuilt on
// top of it, discarding any reporter installed with SetReporter.
func SetLogger(l zerolog.Logger) {
	global.Lock()
	defer global.Unlock()
	global.logger = l
	global.reporter = NewZerologReporter(l)
}

// SetReporter installs r and returns a function restoring the previous one.
func SetReporter(r Reporter) (restore func()) {
	global.Lock()
	prev := global.reporter
	global.reporter = r
	global.Unlock()
	return func() {
		global.Lock()
		global.reporter = prev
		global.Unlock()
	}
}

// Logger returns the package logger.
func Logger() zerolog.Logger {
	global.RLock()
	defer global.RUnlock()
	return global.logger
}

// Component returns the package logger tagged with a component field.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

func current() Reporter {
	global.RLock()
	defer global.RUnlock()
	return global.reporter
}

// Fatal raises err through the current reporter and returns it unchanged
// so the call site can propagate it. A nil err is ignored.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	current().Fatal(err)
	return err
}

// Warn reports a degraded but continuable condition.
func Warn(op, message string, err error) {
	current().Warning(op, message, err)
}

// Log reports an informational event.
func Log(op, message string) {
	current().Log(op, message)
}

// NewLogger builds a zerolog logger for the given level name. Pretty output
// uses the console writer.
func NewLogger(w io.Writer, level string, pretty bool) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		lvl, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), err
		}
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl), nil
}

type zerologReporter struct {
	log zerolog.Logger
}

// NewZerologReporter returns a Reporter writing to l.
func NewZerologReporter(l zerolog.Logger) Reporter {
	return &zerologReporter{log: l}
}

func (z *zerologReporter) Fatal(err error) {
	ev := z.log.Error()
	var e *api.Error
	if errors.As(err, &e) {
		ev = ev.Str("op", e.Op).Str("kind", e.Kind.String())
		if loc := e.Location(); loc != "" {
			ev = ev.Str("location", loc)
		}
		if e.Errno != 0 {
			ev = ev.Int("errno", int(e.Errno)).Str("os_error", e.Errno.Error())
		}
		ev.Msg("fatal: " + e.Message)
		return
	}
	ev.Err(err).Msg("fatal")
}

func (z *zerologReporter) Warning(op, message string, err error) {
	ev := z.log.Warn().Str("op", op)
	if errno := api.ErrnoOf(err); errno != 0 {
		ev = ev.Int("errno", int(errno))
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("warning: " + message)
}

func (z *zerologReporter) Log(op, message string) {
	z.log.Info().Str("op", op).Msg(message)
}
