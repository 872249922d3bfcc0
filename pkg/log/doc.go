// Package log provides historykit's structured logging facade.
//
// # Overview
//
// Logger is a small leveled interface with a Field type for structured
// context. It is backed by log/slog through a bridge handler that feeds our
// own formatter and outputs, so output stays identical regardless of which
// side emitted the record.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("kit"), log.Str("author", "app"))
//	l.Info("kit started", log.Int("contexts", 2))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (text or JSON, console,
// file or null outputs, key redaction and per-message sampling).
//
// # Interop
//
// RedirectStdLog routes the standard library logger, which Pebble writes to,
// through a Logger. ToStdLogger adapts a Logger for APIs taking *log.Logger.
package log
