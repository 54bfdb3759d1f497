package logging

import (
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
)

// WarningAction is what a matching filter does with a warning.
type WarningAction string

const (
	WarnOnce   WarningAction = "once"
	WarnIgnore WarningAction = "ignore"
	WarnAlways WarningAction = "always"
	WarnError  WarningAction = "error"
)

// Well-known categories.
const (
	PendingDeprecationWarning = "PendingDeprecationWarning"
	DeprecationWarning        = "DeprecationWarning"
	RuntimeWarning            = "RuntimeWarning"
	UserWarning               = "UserWarning"
)

// WarningFilter matches warnings by category and message. An empty field
// matches anything. Message is a case-insensitive regular expression
// anchored at the start of the warning text.
type WarningFilter struct {
	Action   WarningAction `yaml:"action" validate:"required,oneof=once ignore always error"`
	Category string        `yaml:"category,omitempty"`
	Message  string        `yaml:"message,omitempty"`
}

// Warning is a single warning occurrence.
type Warning struct {
	Category string
	Message  string
	File     string
	Line     int
}

// Format renders "file(line): Category: message" with the base file name.
func (w Warning) Format() string {
	return fmt.Sprintf("%s(%d): %s: %s", filepath.Base(w.File), w.Line, w.Category, w.Message)
}

// WarningError is returned for warnings matched by an "error" filter.
type WarningError struct {
	Warning Warning
}

func (e *WarningError) Error() string { return e.Warning.Format() }

// DefaultWarningFilters is the stock chain: hide pending deprecations and
// duplicate converter registrations, show everything else once. In debug
// mode the generic converter messages stay visible.
func DefaultWarningFilters(debug bool) []WarningFilter {
	var fs []WarningFilter
	if !debug {
		fs = append(fs, WarningFilter{Action: WarnIgnore, Category: RuntimeWarning,
			Message: `.*to-Python converter for .*second conversion method ignored.*`})
	}
	return append(fs,
		WarningFilter{Action: WarnIgnore, Category: RuntimeWarning, Message: `.*to-Python converter for .*opengm.*`},
		WarningFilter{Action: WarnIgnore, Category: PendingDeprecationWarning},
		WarningFilter{Action: WarnOnce},
	)
}

type compiledFilter struct {
	WarningFilter
	re *regexp.Regexp
}

func compileFilters(filters []WarningFilter) ([]compiledFilter, error) {
	out := make([]compiledFilter, 0, len(filters))
	for i, f := range filters {
		switch f.Action {
		case WarnOnce, WarnIgnore, WarnAlways, WarnError:
		default:
			return nil, fmt.Errorf("%w: filter %d: %q", ErrUnknownAction, i, f.Action)
		}
		cf := compiledFilter{WarningFilter: f}
		if f.Message != "" {
			re, err := regexp.Compile(`(?i)^(?:` + f.Message + `)`)
			if err != nil {
				return nil, fmt.Errorf("filter %d: %w", i, err)
			}
			cf.re = re
		}
		out = append(out, cf)
	}
	return out, nil
}

func (f compiledFilter) matches(w Warning) bool {
	if f.Category != "" && f.Category != w.Category {
		return false
	}
	return f.re == nil || f.re.MatchString(w.Message)
}

// Warnings applies an ordered filter chain; the first matching filter
// decides. Unmatched warnings are shown once per location.
type Warnings struct {
	mu      sync.Mutex
	filters []compiledFilter
	seen    map[string]struct{}
	log     zerolog.Logger
}

// NewWarnings compiles the chain. Shown warnings go to log at WARN level.
func NewWarnings(filters []WarningFilter, log zerolog.Logger) (*Warnings, error) {
	cf, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}
	return &Warnings{filters: cf, seen: map[string]struct{}{}, log: log}, nil
}

// SetFilters replaces the chain. The once-registry is kept.
func (ws *Warnings) SetFilters(filters []WarningFilter) error {
	cf, err := compileFilters(filters)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	ws.filters = cf
	ws.mu.Unlock()
	return nil
}

// Filters returns the current chain.
func (ws *Warnings) Filters() []WarningFilter {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]WarningFilter, len(ws.filters))
	for i, f := range ws.filters {
		out[i] = f.WarningFilter
	}
	return out
}

// Warn runs w through the chain. It returns a *WarningError when an
// "error" filter matched.
func (ws *Warnings) Warn(w Warning) error {
	show, err := ws.decide(w)
	if err != nil {
		return err
	}
	if show {
		imetrics.WarningEmitted()
		ws.log.Warn().Str("category", w.Category).Msg(w.Format())
	}
	return nil
}

// WarnAt is Warn for a warning raised skip frames above the caller.
func (ws *Warnings) WarnAt(skip int, category, message string) error {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		file, line = "unknown", 0
	}
	return ws.Warn(Warning{Category: category, Message: message, File: file, Line: line})
}

func (ws *Warnings) decide(w Warning) (bool, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, f := range ws.filters {
		if !f.matches(w) {
			continue
		}
		switch f.Action {
		case WarnIgnore:
			return false, nil
		case WarnAlways:
			return true, nil
		case WarnError:
			return false, &WarningError{Warning: w}
		default:
			return ws.firstTime("once|" + w.Category + "|" + w.Message), nil
		}
	}
	return ws.firstTime(strings.Join([]string{"default", w.Category, w.Message, w.File, fmt.Sprint(w.Line)}, "|")), nil
}

func (ws *Warnings) firstTime(key string) bool {
	if _, ok := ws.seen[key]; ok {
		return false
	}
	ws.seen[key] = struct{}{}
	return true
}
