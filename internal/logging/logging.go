// Package logging configures process-wide structured logging: output modes,
// a hierarchy of named loggers with per-prefix levels, a rotating log file,
// a user override file and ordered warning filters.
//
// Nothing here is global. main builds a Config, calls New once and hands
// named loggers to the components that need them.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging owns the writers and the effective configuration.
type Logging struct {
	mu   sync.RWMutex
	base Config
	cfg  Config

	root     zerolog.Logger
	file     *lumberjack.Logger
	warnings *Warnings
}

// New builds the logging setup writing to the process stdout and stderr.
func New(cfg Config) (*Logging, error) {
	return NewWithWriters(cfg, os.Stdout, os.Stderr)
}

// NewWithWriters is New with explicit console streams.
func NewWithWriters(cfg Config, stdout, stderr io.Writer) (*Logging, error) {
	if _, ok := outputModeNames[cfg.OutputMode]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOutputMode, int(cfg.OutputMode))
	}
	if cfg.LogfilePath == DevNull {
		if cfg.OutputMode == Logfile {
			return nil, ErrNoOutput
		}
		cfg.OutputMode = Console
	}
	if cfg.Loggers == nil {
		cfg.Loggers = map[string]zerolog.Level{}
	}

	l := &Logging{base: cfg, cfg: cfg}
	var writers []io.Writer
	console := func(w io.Writer, min, below zerolog.Level) io.Writer {
		return &levelRangeWriter{w: consoleWriter(w, cfg.Prefix), min: min, below: below}
	}
	if cfg.OutputMode == Logfile || cfg.OutputMode == Both || cfg.OutputMode == LogfileWithConsoleErrors {
		l.file = &lumberjack.Logger{
			Filename:   cfg.LogfilePath,
			MaxSize:    max(cfg.MaxSizeMB, 1),
			MaxBackups: cfg.MaxBackups,
		}
		writers = append(writers, l.file)
	}
	switch cfg.OutputMode {
	case Console, Both:
		writers = append(writers,
			console(stdout, zerolog.TraceLevel, zerolog.WarnLevel),
			console(stderr, zerolog.WarnLevel, zerolog.Disabled))
	case LogfileWithConsoleErrors:
		writers = append(writers, console(stderr, zerolog.ErrorLevel, zerolog.Disabled))
	}

	l.root = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.TraceLevel).
		With().
		Timestamp().
		Int("pid", os.Getpid()).
		Logger()

	w, err := NewWarnings(cfg.Warnings, l.Get("warnings"))
	if err != nil {
		return nil, err
	}
	l.warnings = w

	if cfg.OverrideFile != "" {
		if err := l.Reload(); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return l, nil
}

// Get returns the logger called name. Its level follows the configuration,
// including later reloads of the override file.
func (l *Logging) Get(name string) zerolog.Logger {
	return l.root.With().Str("logger", name).Logger().Hook(levelHook{l: l, name: name})
}

// Trace returns the trace logger for name. Trace loggers emit DEBUG records
// and have their own TRACE. hierarchy.
func (l *Logging) Trace(name string) zerolog.Logger {
	return l.Get("TRACE." + name)
}

// Enabled reports whether logger name would emit a record at lvl.
func (l *Logging) Enabled(name string, lvl zerolog.Level) bool {
	return lvl >= l.level(name)
}

func (l *Logging) level(name string) zerolog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg.LevelFor(name)
}

// Config returns the effective configuration.
func (l *Logging) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// LogfilePath returns the rotating file in use, or "" without one.
func (l *Logging) LogfilePath() string {
	if l.file == nil {
		return ""
	}
	return l.file.Filename
}

// Warnings returns the warning filter chain.
func (l *Logging) Warnings() *Warnings { return l.warnings }

// Warn emits a warning of category through the filter chain, attributing it
// to the caller.
func (l *Logging) Warn(category, message string) error {
	return l.warnings.WarnAt(1, category, message)
}

// Close flushes and closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Rotate starts a new log file, keeping MaxBackups old ones.
func (l *Logging) Rotate() error {
	if l.file == nil {
		return nil
	}
	return l.file.Rotate()
}

type levelHook struct {
	l    *Logging
	name string
}

func (h levelHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level != zerolog.NoLevel && level < h.l.level(h.name) {
		e.Discard()
	}
}

// levelRangeWriter passes records with min <= level < below.
type levelRangeWriter struct {
	w     io.Writer
	min   zerolog.Level
	below zerolog.Level
}

func (w *levelRangeWriter) Write(p []byte) (int, error) { return w.w.Write(p) }

func (w *levelRangeWriter) WriteLevel(l zerolog.Level, p []byte) (int, error) {
	if l < w.min || l >= w.below {
		return len(p), nil
	}
	return w.w.Write(p)
}

func consoleWriter(out io.Writer, prefix string) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       true,
		PartsOrder:    []string{zerolog.LevelFieldName, "logger", zerolog.MessageFieldName},
		FieldsExclude: []string{"logger", "pid", zerolog.TimestampFieldName},
		FormatLevel: func(i interface{}) string {
			return prefix + strings.ToUpper(fmt.Sprint(i))
		},
		FormatPartValueByName: func(i interface{}, name string) string {
			if name == "logger" && i != nil {
				return fmt.Sprint(i) + ":"
			}
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		},
	}
}
