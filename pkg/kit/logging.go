package kit

import (
	"github.com/rzbill/historykit/pkg/log"
)

// Verbosity levels. 0 is silent.
const (
	VerbosityLifecycle = 1 // start/stop, errors, cleanups
	VerbosityCycle     = 2 // one line per cycle
	VerbosityDetail    = 3 // per-step detail
)

// gate forwards to a Logger only when the configured verbosity reaches the
// level named at the call site.
type gate struct {
	l         log.Logger
	verbosity int
}

func (g gate) on(v int) bool { return v > 0 && g.verbosity >= v }

func (g gate) debug(v int, msg string, fields ...log.Field) {
	if g.on(v) {
		g.l.Debug(msg, fields...)
	}
}

func (g gate) info(v int, msg string, fields ...log.Field) {
	if g.on(v) {
		g.l.Info(msg, fields...)
	}
}

func (g gate) warn(v int, msg string, fields ...log.Field) {
	if g.on(v) {
		g.l.Warn(msg, fields...)
	}
}

func (g gate) error(v int, msg string, fields ...log.Field) {
	if g.on(v) {
		g.l.Error(msg, fields...)
	}
}

func (g gate) with(fields ...log.Field) gate {
	if g.verbosity <= 0 {
		return g
	}
	return gate{l: g.l.With(fields...), verbosity: g.verbosity}
}

func defaultLogger() log.Logger {
	return log.NewLogger(
		log.WithLevel(log.DebugLevel),
		log.WithFormatter(&log.TextFormatter{}),
		log.WithOutput(log.NewConsoleOutput()),
	)
}
