package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/ndarray"
	"github.com/FynnBe/ilastik/internal/operators"
	"github.com/FynnBe/ilastik/internal/shell"
	"github.com/FynnBe/ilastik/pkg/serialization"
	"github.com/FynnBe/ilastik/pkg/validation"
)

// Options configures Build. The zero value is usable.
type Options struct {
	// Graph hosts the operators. Nil creates a graph that Close shuts down.
	Graph      *graph.Graph
	MaxWorkers int
	// Logger returns named component loggers. Nil means silent.
	Logger     func(name string) zerolog.Logger
	Cache      operators.CacheConfig
	Registry   *Registry
	Serializer *serialization.Serializer
	EventQueue int
}

func (o Options) log(name string) zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return o.Logger(name)
}

// Workflow is a built workflow: its graph, applets and shell.
type Workflow struct {
	Spec  *Spec
	Graph *graph.Graph
	Shell *shell.Shell

	applets  map[string]applets.Applet
	ownGraph bool
}

// Build creates the applets of spec in order, applies their settings,
// makes the connections and configures the shell.
func Build(spec *Spec, opts Options) (*Workflow, error) {
	if spec == nil {
		return nil, fmt.Errorf("%w: nil spec", ErrInvalidSpec)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}

	w := &Workflow{Spec: spec, Graph: opts.Graph, applets: map[string]applets.Applet{}}
	if w.Graph == nil {
		gl := opts.log("lazyflow.graph")
		w.Graph = graph.New(graph.Config{Name: spec.Workflow, MaxWorkers: opts.MaxWorkers, Logger: &gl})
		w.ownGraph = true
	}
	w.Shell = shell.New(shell.Config{
		Workflow:   spec.Workflow,
		Logger:     opts.log("ilastik.shell"),
		Serializer: opts.Serializer,
		EventQueue: opts.EventQueue,
	})
	log := opts.log("ilastik.workflow")

	if err := w.build(reg, opts); err != nil {
		return nil, errors.Join(err, w.Close())
	}
	log.Info().Str("workflow", spec.Workflow).Int("applets", len(spec.Applets)).Msg("workflow built")
	return w, nil
}

func (w *Workflow) build(reg *Registry, opts Options) error {
	env := applets.Env{Graph: w.Graph, Logger: opts.Logger, Cache: opts.Cache}
	for _, as := range w.Spec.Applets {
		f, err := reg.Lookup(as.Type)
		if err != nil {
			return fmt.Errorf("applet %q: %w", as.Name, err)
		}
		a, err := f(env, as.Name)
		if err != nil {
			return fmt.Errorf("applet %q: %w", as.Name, err)
		}
		w.applets[as.Name] = a
		if err := applySettings(a, as.Settings); err != nil {
			return err
		}
		if _, err := w.Shell.AddApplet(a); err != nil {
			return err
		}
	}
	for _, c := range w.Spec.Connections {
		from, err := w.Slot(c.From)
		if err != nil {
			return err
		}
		to, err := w.Slot(c.To)
		if err != nil {
			return err
		}
		if err := to.Connect(from); err != nil {
			return fmt.Errorf("%w: %s -> %s: %w", ErrConnectionFailed, c.From, c.To, err)
		}
	}
	if w.Spec.ImageNames != "" {
		s, err := w.Slot(w.Spec.ImageNames)
		if err != nil {
			return err
		}
		w.Shell.SetImageNameListSlot(s)
	}
	if w.Spec.SelectedDrawer != nil {
		return w.Shell.SetSelectedAppletDrawer(*w.Spec.SelectedDrawer)
	}
	return nil
}

// Applet returns the applet declared under name.
func (w *Workflow) Applet(name string) (applets.Applet, error) {
	a, ok := w.applets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApplet, name)
	}
	return a, nil
}

// Slot resolves "<applet>.<slot>" against the applet operators.
func (w *Workflow) Slot(ref string) (*graph.Slot, error) {
	name, slot, err := validation.SplitSlotRef(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	a, err := w.Applet(name)
	if err != nil {
		return nil, err
	}
	return a.TopLevelOperator().Base().Slot(slot)
}

// Updater is implemented by applets whose results are only recomputed on
// request, like the watershed.
type Updater interface {
	Update(ctx context.Context) error
}

// Export brings every Updater applet up to date and reads the whole slot
// ref. An empty ref means the export slot of the workflow file.
func (w *Workflow) Export(ctx context.Context, ref string) (*ndarray.Array, error) {
	if ref == "" {
		ref = w.Spec.Export
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: workflow %s declares no export slot", ErrNotReady, w.Spec.Workflow)
	}
	slot, err := w.Slot(ref)
	if err != nil {
		return nil, err
	}
	for _, as := range w.Spec.Applets {
		if u, ok := w.applets[as.Name].(Updater); ok {
			if err := u.Update(ctx); err != nil {
				return nil, fmt.Errorf("update %s: %w", as.Name, err)
			}
		}
	}
	if !slot.Ready() {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, ref)
	}
	return slot.Get(graph.Roi{}).Wait(ctx)
}

// Close shuts the shell down, cleans up the applet operators and closes
// the graph if Build created it.
func (w *Workflow) Close() error {
	err := w.Shell.Close()
	for _, as := range w.Spec.Applets {
		if a, ok := w.applets[as.Name]; ok {
			a.TopLevelOperator().Base().Cleanup()
		}
	}
	if w.ownGraph {
		err = errors.Join(err, w.Graph.Close())
	}
	return err
}
