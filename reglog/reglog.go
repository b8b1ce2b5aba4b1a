// Package reglog implements the Registry's pluggable logging sink: a
// single Write(severity, msg) callback the core calls on its own — the
// core never inspects the sink's return value as control flow.
//
// The default sink is backed by zerolog and built by NewZerologSink
// from a Config (console or JSON output, writing to stdout by default).
package reglog

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Severity is the three-value severity prefix the core logs at.
type Severity int

const (
	Debug Severity = iota
	Notice
	Error
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Notice:
		return "NOTICE"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Sink is the pluggable logging callback. Write must not block the
// calling goroutine for long: it may run on the RCU callback thread.
type Sink interface {
	Write(sev Severity, msg string)
}

// Config is enough to configure a zerolog-backed default sink without
// reaching for a file/flag config library the way a full binary would.
type Config struct {
	JSONOutput bool
	Output     io.Writer
}

// zerologSink adapts zerolog.Logger to the Sink interface.
type zerologSink struct {
	logger zerolog.Logger
}

func (z zerologSink) Write(sev Severity, msg string) {
	var ev *zerolog.Event
	switch sev {
	case Debug:
		ev = z.logger.Debug()
	case Notice:
		ev = z.logger.Info()
	default:
		ev = z.logger.Error()
	}
	ev.Msg(msg)
}

// NewZerologSink builds a Sink backed by zerolog.
func NewZerologSink(cfg Config) Sink {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	var logger zerolog.Logger
	if cfg.JSONOutput {
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
	return zerologSink{logger: logger}
}

var current Sink = NewZerologSink(Config{})

// SetSink installs the process-wide logging sink, pluggable at build
// or startup time. Passing nil installs a no-op sink.
func SetSink(s Sink) {
	if s == nil {
		s = noop{}
	}
	current = s
}

type noop struct{}

func (noop) Write(Severity, string) {}

// Debugf, Noticef and Errorf are the package-level helpers the rest of
// the Registry calls, always routing through the single configured
// sink.
func Debugf(format string, args ...any) { writef(Debug, format, args...) }
func Noticef(format string, args ...any) { writef(Notice, format, args...) }
func Errorf(format string, args ...any) { writef(Error, format, args...) }

func writef(sev Severity, format string, args ...any) {
	current.Write(sev, fmt.Sprintf(format, args...))
}
