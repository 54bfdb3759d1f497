package logging

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/FynnBe/ilastik/pkg/validation"
)

// Override is the user logging file. Loggers and the root level replace the
// defaults; warning filters are tried before the default chain.
//
//	root_level: info
//	loggers:
//	  lazyflow.graph: debug
//	  TRACE.lazyflow.graph.Slot: debug
//	warnings:
//	  - action: always
//	    category: UserWarning
type Override struct {
	RootLevel string            `yaml:"root_level,omitempty" validate:"omitempty,log_level"`
	Loggers   map[string]string `yaml:"loggers,omitempty" validate:"dive,keys,logger_name,endkeys,log_level"`
	Warnings  []WarningFilter   `yaml:"warnings,omitempty" validate:"dive"`
}

// LoadOverride reads and validates an override file.
func LoadOverride(path string) (Override, error) {
	var o Override
	data, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("%w: %s: %v", ErrInvalidOverride, path, err)
	}
	if err := validation.ValidateWithPlayground(o); err != nil {
		return o, fmt.Errorf("%w: %s: %v", ErrInvalidOverride, path, err)
	}
	return o, nil
}

// WithOverride returns a copy of c with o applied.
func (c Config) WithOverride(o Override) (Config, error) {
	out := c
	out.Loggers = maps.Clone(c.Loggers)
	if out.Loggers == nil {
		out.Loggers = map[string]zerolog.Level{}
	}
	if o.RootLevel != "" {
		lvl, err := ParseLevel(o.RootLevel)
		if err != nil {
			return c, err
		}
		out.RootLevel = lvl
	}
	for name, s := range o.Loggers {
		lvl, err := ParseLevel(s)
		if err != nil {
			return c, fmt.Errorf("logger %s: %w", name, err)
		}
		out.Loggers[name] = lvl
	}
	out.Warnings = append(append([]WarningFilter(nil), o.Warnings...), c.Warnings...)
	return out, nil
}

// Reload re-reads the override file and applies it on top of the startup
// configuration. A missing file resets to the startup configuration and
// returns the not-exist error.
func (l *Logging) Reload() error {
	l.mu.RLock()
	base := l.base
	l.mu.RUnlock()
	if base.OverrideFile == "" {
		return nil
	}

	o, err := LoadOverride(base.OverrideFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	notExist := err
	cfg, err := base.WithOverride(o)
	if err != nil {
		return err
	}
	if err := l.warnings.SetFilters(cfg.Warnings); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return notExist
}

// Watch reloads the override file whenever it changes, until ctx is done.
func (l *Logging) Watch(ctx context.Context) error {
	path := l.base.OverrideFile
	if path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	log := l.Get("ilastik.logging")
	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			if err := l.Reload(); err != nil && !os.IsNotExist(err) {
				log.Error().Err(err).Str("file", path).Msg("reloading logging override failed")
				continue
			}
			log.Info().Str("file", path).Msg("logging override reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("watching logging override")
		}
	}
}
