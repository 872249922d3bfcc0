package log

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config declares how a process-wide logger is built.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	// Outputs lists "console", "null" or "file". Empty means console.
	Outputs []string `json:"outputs" yaml:"outputs"`
	File    string   `json:"file" yaml:"file"`
	// Redact replaces the values of these keys with [REDACTED].
	Redact []string `json:"redact" yaml:"redact"`
	// SampleInitial/SampleThereafter enable per-message sampling when
	// SampleThereafter > 0.
	SampleInitial    int  `json:"sampleInitial" yaml:"sampleInitial"`
	SampleThereafter int  `json:"sampleThereafter" yaml:"sampleThereafter"`
	ShowCaller       bool `json:"showCaller" yaml:"showCaller"`
}

// ParseLevel parses debug|info|warn|error|fatal (case-insensitive).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("log: unknown level %q", s)
	}
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "json":
		formatter = &JSONFormatter{ShowCaller: cfg.ShowCaller}
	case "text", "":
		formatter = &TextFormatter{ShowCaller: cfg.ShowCaller}
	default:
		return nil, fmt.Errorf("log: unknown format %q", cfg.Format)
	}

	opts := []LoggerOption{WithLevel(level), WithFormatter(formatter)}
	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"console"}
	}
	for _, o := range outputs {
		switch strings.ToLower(o) {
		case "console":
			opts = append(opts, WithOutput(NewConsoleOutput()))
		case "null":
			opts = append(opts, WithOutput(NullOutput{}))
		case "file":
			if cfg.File == "" {
				return nil, fmt.Errorf("log: file output requires File")
			}
			fo, err := NewFileOutput(cfg.File)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithOutput(fo))
		default:
			return nil, fmt.Errorf("log: unknown output %q", o)
		}
	}

	l := newBaseLogger(opts...)
	h := l.handler.withRedactions(cfg.Redact).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	if h != l.handler {
		l.handler = h
		l.slogLogger = slog.New(h)
	}
	return l, nil
}
