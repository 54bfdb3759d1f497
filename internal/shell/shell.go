// Package shell hosts the applets of a workflow: it keeps them in order,
// selects which drawer is shown, tracks the image name list and moves
// applet state in and out of projects.
package shell

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/FynnBe/ilastik/internal/applets"
	"github.com/FynnBe/ilastik/internal/core/channel"
	"github.com/FynnBe/ilastik/internal/core/graph"
	"github.com/FynnBe/ilastik/internal/core/project"
	imetrics "github.com/FynnBe/ilastik/internal/infrastructure/metrics"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

// Config holds shell settings
type Config struct {
	// Workflow is recorded in saved projects and checked when opening one.
	Workflow   string
	Logger     zerolog.Logger
	Serializer *serialization.Serializer // project files; nil means serialization.Default()
	EventQueue int                       // buffered events, dropped when full
}

// Shell is the headless main window.
// PRINCIPLES:
// - SRP: hosting and persistence only, applets own their semantics
// - DIP: snapshots go to any project.Store
type Shell struct {
	workflow   string
	log        zerolog.Logger
	serializer *serialization.Serializer
	events     *channel.InMemoryChannel

	mu         sync.RWMutex
	applets    []applets.Applet
	selected   int
	visible    bool
	closed     bool
	imageNames []string
	unwatch    func()
	current    *project.Project
	path       string
}

// New creates an empty shell.
func New(cfg Config) *Shell {
	if cfg.Serializer == nil {
		cfg.Serializer = serialization.Default()
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = 256
	}
	return &Shell{
		workflow:   cfg.Workflow,
		log:        cfg.Logger,
		serializer: cfg.Serializer,
		events:     channel.NewInMemoryChannel(channel.InMemoryChannelConfig{BufferSize: cfg.EventQueue, DropOnFull: true}),
		selected:   -1,
	}
}

// Workflow returns the workflow name.
func (s *Shell) Workflow() string { return s.workflow }

// Events is the queue of shell events. It is closed by Close.
func (s *Shell) Events() channel.Channel { return s.events }

// DrainEvents returns the queued events without waiting.
func (s *Shell) DrainEvents() []channel.Event { return s.events.Drain() }

func (s *Shell) emit(t channel.EventType, payload any) {
	ev := channel.Event{ID: uuid.NewString(), Type: t, Source: "shell", Payload: payload}
	if err := s.events.TrySend(ev); err != nil {
		s.log.Debug().Err(err).Str("event", string(t)).Msg("event dropped")
	}
}

// AddApplet appends a to the applet list and returns its drawer index.
func (s *Shell) AddApplet(a applets.Applet) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	for _, b := range s.applets {
		if b.Name() == a.Name() {
			s.mu.Unlock()
			return 0, fmt.Errorf("%w: %s", ErrDuplicateApplet, a.Name())
		}
	}
	s.applets = append(s.applets, a)
	i := len(s.applets) - 1
	s.mu.Unlock()

	if d := a.Drawer(); d != nil {
		d.Hide()
	}
	s.log.Debug().Str("applet", a.Name()).Int("index", i).Msg("applet added")
	s.emit(channel.EventAppletAdded, a.Name())
	return i, nil
}

// Applets returns the applets in drawer order.
func (s *Shell) Applets() []applets.Applet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.applets)
}

// Applet looks an applet up by name.
func (s *Shell) Applet(name string) (applets.Applet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.applets {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// SetImageNameListSlot makes the shell follow slot for the names of the
// loaded images. The slot holds a string or a []string.
func (s *Shell) SetImageNameListSlot(slot *graph.Slot) {
	refresh := func() { s.refreshImageNames(slot) }
	dirty := slot.NotifyDirty(func(graph.DirtyEvent) { refresh() })
	meta := slot.NotifyMetaChanged(func(*graph.Slot) { refresh() })

	s.mu.Lock()
	prev := s.unwatch
	s.unwatch = func() {
		slot.UnregisterDirty(dirty)
		slot.UnregisterMetaChanged(meta)
	}
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	refresh()
}

func (s *Shell) refreshImageNames(slot *graph.Slot) {
	var names []string
	if slot.Ready() {
		switch v := slot.Value().(type) {
		case string:
			names = []string{v}
		case []string:
			names = slices.Clone(v)
		}
	}
	s.mu.Lock()
	same := slices.Equal(s.imageNames, names)
	s.imageNames = names
	s.mu.Unlock()
	if !same {
		s.emit(channel.EventImageNames, names)
	}
}

// ImageNames returns the current image names.
func (s *Shell) ImageNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.imageNames)
}

// SetSelectedAppletDrawer shows the drawer of applet i and hides the one
// shown before.
func (s *Shell) SetSelectedAppletDrawer(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.applets) {
		n := len(s.applets)
		s.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrDrawerIndex, i, n)
	}
	prev := s.selected
	s.selected = i
	var old, cur applets.Drawer
	if prev >= 0 && prev != i {
		old = s.applets[prev].Drawer()
	}
	cur = s.applets[i].Drawer()
	name := s.applets[i].Name()
	s.mu.Unlock()

	if old != nil {
		old.Hide()
	}
	if cur != nil {
		cur.Show()
	}
	s.log.Debug().Str("applet", name).Int("index", i).Msg("drawer selected")
	s.emit(channel.EventDrawerSelected, i)
	return nil
}

// SelectedAppletDrawer returns the selected index, -1 before any selection.
func (s *Shell) SelectedAppletDrawer() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Show marks the shell visible and selects the first drawer when none is
// selected yet.
func (s *Shell) Show() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.visible = true
	pick := s.selected < 0 && len(s.applets) > 0
	s.mu.Unlock()
	if pick {
		return s.SetSelectedAppletDrawer(0)
	}
	return nil
}

// Visible reports whether Show was called.
func (s *Shell) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// ProjectPath is the file of the last opened or saved project.
func (s *Shell) ProjectPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Snapshot serializes every applet into a project. A project opened before
// keeps its ID and name.
func (s *Shell) Snapshot(name string) (*project.Project, error) {
	s.mu.RLock()
	cur := s.current
	list := slices.Clone(s.applets)
	meta := project.Metadata{ImageNames: slices.Clone(s.imageNames), SelectedDrawer: s.selected, CreatedBy: "ilastik"}
	s.mu.RUnlock()

	p := project.New(name, s.workflow)
	if cur != nil {
		p.ID = cur.ID
		p.Metadata.Tags = slices.Clone(cur.Metadata.Tags)
		if name == "" {
			p.Name = cur.Name
		}
	}
	tags := p.Metadata.Tags
	p.Metadata = meta
	p.Metadata.Tags = tags
	for _, a := range list {
		ser := a.Serializer()
		if ser == nil {
			continue
		}
		if err := ser.Serialize(p); err != nil {
			return nil, fmt.Errorf("applet %s: %w", a.Name(), err)
		}
	}
	return p, nil
}

// Restore loads applet state from p in applet order.
func (s *Shell) Restore(p *project.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if s.workflow != "" && p.Workflow != s.workflow {
		return fmt.Errorf("%w: %q, shell runs %q", ErrWorkflowMismatch, p.Workflow, s.workflow)
	}
	for _, a := range s.Applets() {
		ser := a.Serializer()
		if ser == nil {
			continue
		}
		if err := ser.Deserialize(p); err != nil {
			return fmt.Errorf("applet %s: %w", a.Name(), err)
		}
	}
	s.mu.Lock()
	s.current = p
	n := len(s.applets)
	s.mu.Unlock()

	if i := p.Metadata.SelectedDrawer; i >= 0 && i < n {
		if err := s.SetSelectedAppletDrawer(i); err != nil {
			return err
		}
	}
	s.emit(channel.EventProjectOpened, p.ID)
	return nil
}

// OpenProjectFile reads a project file and restores the applets from it.
func (s *Shell) OpenProjectFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var p project.Project
	if err := s.serializer.ReadFile(path, &p); err != nil {
		return fmt.Errorf("open project: %w", err)
	}
	if err := s.Restore(&p); err != nil {
		return fmt.Errorf("open project %s: %w", path, err)
	}
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	imetrics.ProjectLoaded("file")
	s.log.Info().Str("path", path).Str("project", p.Name).Msg("project opened")
	return nil
}

// SaveProjectFile writes the applet state to path.
func (s *Shell) SaveProjectFile(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.Snapshot("")
	if err != nil {
		return err
	}
	if err := s.serializer.WriteFile(path, p); err != nil {
		return fmt.Errorf("save project %s: %w", path, err)
	}
	s.mu.Lock()
	s.current, s.path = p, path
	s.mu.Unlock()
	imetrics.ProjectSaved("file")
	s.log.Info().Str("path", path).Int("bytes", p.Size()).Msg("project saved")
	s.emit(channel.EventProjectSaved, path)
	return nil
}

// SaveSnapshot stores the applet state in store and returns the project ID.
func (s *Shell) SaveSnapshot(ctx context.Context, store project.Store, name string) (string, error) {
	p, err := s.Snapshot(name)
	if err != nil {
		return "", err
	}
	if err := store.Save(ctx, p); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	imetrics.ProjectSaved("store")
	s.emit(channel.EventProjectSaved, p.ID)
	return p.ID, nil
}

// LoadSnapshot restores the applet state stored under id.
func (s *Shell) LoadSnapshot(ctx context.Context, store project.Store, id string) error {
	p, err := store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := s.Restore(p); err != nil {
		return err
	}
	imetrics.ProjectLoaded("store")
	return nil
}

// Close stops every drawer and the image name subscription, and closes
// the event queue. It is safe to call twice.
func (s *Shell) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.visible = false
	unwatch := s.unwatch
	s.unwatch = nil
	list := slices.Clone(s.applets)
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	for _, a := range list {
		if d := a.Drawer(); d != nil {
			d.StopAndCleanUp()
		}
	}
	s.log.Debug().Int("applets", len(list)).Msg("shell closed")
	return s.events.Close()
}
