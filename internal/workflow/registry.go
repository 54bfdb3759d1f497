package workflow

import (
	"fmt"
	"slices"
	"sync"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/applets/dataselection"
	"github.com/FynnBe/ilastik/internal/applets/featureselection"
	"github.com/FynnBe/ilastik/internal/applets/pixelclassification"
	"github.com/FynnBe/ilastik/internal/applets/projectmetadata"
	"github.com/FynnBe/ilastik/internal/applets/watershed"
)

// Factory creates an applet titled name inside env.Graph.
type Factory func(env applets.Env, name string) (applets.Applet, error)

// Registry maps applet type names used in workflow files to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory. Type names are unique.
func (r *Registry) Register(typ string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[typ]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, typ)
	}
	r.factories[typ] = f
	return nil
}

// Lookup returns the factory for typ.
func (r *Registry) Lookup(typ string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return f, nil
}

// Types lists the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// DefaultRegistry knows every applet of this module.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	must := func(typ string, f Factory) {
		if err := r.Register(typ, f); err != nil {
			panic(err)
		}
	}
	must("project_metadata", func(env applets.Env, name string) (applets.Applet, error) {
		return projectmetadata.New(env, name), nil
	})
	must("data_selection", func(env applets.Env, name string) (applets.Applet, error) {
		return dataselection.New(env, name), nil
	})
	must("feature_selection", func(env applets.Env, name string) (applets.Applet, error) {
		a := featureselection.New(env, name)
		if err := a.Operator().SelectionMatrix.SetValue(featureselection.DefaultSelection()); err != nil {
			return nil, err
		}
		return a, nil
	})
	must("pixel_classification", func(env applets.Env, name string) (applets.Applet, error) {
		return pixelclassification.New(env, name), nil
	})
	must("watershed", func(env applets.Env, name string) (applets.Applet, error) {
		return watershed.New(env, name), nil
	})
	return r
}
