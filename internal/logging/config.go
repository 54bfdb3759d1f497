package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// DevNull disables the log file.
const DevNull = "/dev/null"

// OutputMode selects where records go.
type OutputMode int

const (
	// Console writes below WARN to stdout and WARN and above to stderr.
	Console OutputMode = iota
	// Logfile writes everything to the rotating log file.
	Logfile
	// Both combines Console and Logfile.
	Both
	// LogfileWithConsoleErrors writes to the log file and errors to stderr.
	LogfileWithConsoleErrors
)

var outputModeNames = map[OutputMode]string{
	Console:                  "console",
	Logfile:                  "logfile",
	Both:                     "both",
	LogfileWithConsoleErrors: "logfile_with_console_errors",
}

func (m OutputMode) String() string {
	if s, ok := outputModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("OutputMode(%d)", int(m))
}

// ParseOutputMode accepts the names printed by String.
func ParseOutputMode(s string) (OutputMode, error) {
	for m, name := range outputModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOutputMode, s)
}

// ParseLevel maps level names, including "critical" and "warning", to
// zerolog levels.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "critical", "fatal":
		return zerolog.FatalLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// Config is the complete logging setup, built once at startup and passed to
// New.
type Config struct {
	Prefix       string
	OutputMode   OutputMode
	LogfilePath  string
	MaxSizeMB    int
	MaxBackups   int
	RootLevel    zerolog.Level
	Loggers      map[string]zerolog.Level
	Warnings     []WarningFilter
	Debug        bool
	OverrideFile string
}

// DefaultLogfilePath is ~/ilastik_log.txt.
func DefaultLogfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ilastik_log.txt"
	}
	return filepath.Join(home, "ilastik_log.txt")
}

// DefaultOverridePath is ~/.ilastik_log_config.yaml.
func DefaultOverridePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ilastik_log_config.yaml")
}

// DefaultConfig returns the stock configuration. A log path of /dev/null
// switches to Console output; asking for Logfile output with it is an error.
func DefaultConfig(prefix string, mode OutputMode, logfilePath string) (Config, error) {
	if _, ok := outputModeNames[mode]; !ok {
		return Config{}, fmt.Errorf("%w: %d", ErrUnknownOutputMode, int(mode))
	}
	if logfilePath == DevNull {
		if mode == Logfile {
			return Config{}, ErrNoOutput
		}
		mode = Console
	}
	if logfilePath == "" {
		logfilePath = DefaultLogfilePath()
	}
	loggers := make(map[string]zerolog.Level, len(defaultLoggers))
	for name, lvl := range defaultLoggers {
		loggers[name] = lvl
	}
	return Config{
		Prefix:      prefix,
		OutputMode:  mode,
		LogfilePath: logfilePath,
		MaxSizeMB:   20,
		MaxBackups:  5,
		RootLevel:   zerolog.InfoLevel,
		Loggers:     loggers,
		Warnings:    DefaultWarningFilters(false),
	}, nil
}

// WithDebug enables debug mode, which stops hiding converter warnings.
func (c Config) WithDebug(debug bool) Config {
	c.Debug = debug
	c.Warnings = DefaultWarningFilters(debug)
	return c
}

// LevelFor resolves the level of a dotted logger name by its longest
// configured prefix. TRACE loggers only match TRACE entries.
func (c Config) LevelFor(name string) zerolog.Level {
	for n := name; n != ""; {
		if lvl, ok := c.Loggers[n]; ok {
			return lvl
		}
		i := strings.LastIndexByte(n, '.')
		if i < 0 {
			break
		}
		n = n[:i]
	}
	if name == "TRACE" || strings.HasPrefix(name, "TRACE.") {
		return zerolog.InfoLevel
	}
	return c.RootLevel
}

// The stock hierarchy. Trace loggers emit DEBUG records, so leaving them at
// INFO keeps them silent until a user override lowers them.
var defaultLoggers = map[string]zerolog.Level{
	"warnings":                            zerolog.WarnLevel,
	"main":                                zerolog.InfoLevel,
	"lazyflow":                            zerolog.InfoLevel,
	"lazyflow.request":                    zerolog.InfoLevel,
	"lazyflow.graph":                      zerolog.InfoLevel,
	"lazyflow.graph.Slot":                 zerolog.InfoLevel,
	"lazyflow.operators":                  zerolog.InfoLevel,
	"lazyflow.operators.cache":            zerolog.InfoLevel,
	"lazyflow.classifiers":                zerolog.InfoLevel,
	"ilastik":                             zerolog.InfoLevel,
	"ilastik.applets":                     zerolog.InfoLevel,
	"ilastik.applets.base":                zerolog.InfoLevel,
	"ilastik.applets.dataSelection":       zerolog.InfoLevel,
	"ilastik.applets.featureSelection":    zerolog.InfoLevel,
	"ilastik.applets.pixelClassification": zerolog.InfoLevel,
	"ilastik.applets.watershed":           zerolog.InfoLevel,
	"ilastik.shell":                       zerolog.InfoLevel,
	"ilastik.shell.projectManager":        zerolog.InfoLevel,
	"ilastik.workflows":                   zerolog.InfoLevel,
	"ilastik.widgets":                     zerolog.InfoLevel,
	"TRACE":                               zerolog.InfoLevel,
	"TRACE.lazyflow.graph.Slot":           zerolog.InfoLevel,
	"TRACE.lazyflow.graph.Operator":       zerolog.InfoLevel,
	"TRACE.lazyflow.operators":            zerolog.InfoLevel,
	"TRACE.ilastik.applets":               zerolog.InfoLevel,
	"TRACE.ilastik.shell":                 zerolog.InfoLevel,
}
