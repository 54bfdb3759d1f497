// Package memory keeps project snapshots in process memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

// Store implements project.Store with serialized copies in a map
// PRINCIPLES:
// - KISS: one map guarded by one mutex
// - SRP: storage only, the shell decides what to snapshot
// - DIP: implements project.Store
type Store struct {
	serializer *serialization.Serializer
	ttl        time.Duration
	maxBytes   int64
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	size    int64
}

// Config holds configuration for Store
type Config struct {
	TTL        time.Duration             // zero keeps snapshots until deleted
	MaxMemory  int64                     // bytes; least recently used snapshots are evicted beyond it
	Serializer *serialization.Serializer // nil means serialization.Default()
}

type entry struct {
	data       []byte
	summary    *project.Project // applet data stripped, for filtering
	expires    time.Time
	accessedAt time.Time
}

// New creates an in-memory store.
func New(cfg Config) *Store {
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = 256 << 20
	}
	if cfg.Serializer == nil {
		cfg.Serializer = serialization.Default()
	}
	return &Store{
		serializer: cfg.Serializer,
		ttl:        cfg.TTL,
		maxBytes:   cfg.MaxMemory,
		now:        time.Now,
		entries:    make(map[string]*entry),
	}
}

// Default creates a store without TTL and a 256 MB budget.
func Default() *Store { return New(Config{}) }

func (s *Store) Save(_ context.Context, p *project.Project) error {
	if p == nil {
		return project.ErrInvalidProjectID
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("project validation failed: %w", err)
	}
	data, err := s.serializer.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %v", project.ErrSaveFailed, err)
	}
	summary := *p
	summary.Applets = nil

	now := s.now()
	e := &entry{data: data, summary: &summary, accessedAt: now}
	if s.ttl > 0 {
		e.expires = now.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[p.ID]; ok {
		s.size -= int64(len(old.data))
		delete(s.entries, p.ID)
	}
	if need := s.size + int64(len(data)) - s.maxBytes; need > 0 {
		if s.evictLocked(need) < need {
			return fmt.Errorf("%w: memory limit of %d bytes exceeded", project.ErrSaveFailed, s.maxBytes)
		}
	}
	s.entries[p.ID] = e
	s.size += int64(len(data))
	return nil
}

func (s *Store) Load(_ context.Context, id string) (*project.Project, error) {
	if id == "" {
		return nil, project.ErrInvalidProjectID
	}
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok && s.expiredLocked(e) {
		s.deleteLocked(id)
		ok = false
	}
	if ok {
		e.accessedAt = s.now()
	}
	s.mu.Unlock()
	if !ok {
		return nil, project.ErrProjectNotFound
	}

	var p project.Project
	if err := s.serializer.Unmarshal(e.data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", project.ErrLoadFailed, err)
	}
	return &p, nil
}

// List returns summaries without applet data, newest first.
func (s *Store) List(_ context.Context, filter project.Filter) ([]*project.Project, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}
	s.mu.Lock()
	var out []*project.Project
	for id, e := range s.entries {
		if s.expiredLocked(e) {
			s.deleteLocked(id)
			continue
		}
		if filter.Matches(e.summary) {
			c := *e.summary
			out = append(out, &c)
		}
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *project.Project) int { return b.Timestamp.Compare(a.Timestamp) })
	return filter.Page(out), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return project.ErrProjectNotFound
	}
	s.deleteLocked(id)
	return nil
}

// Stats reports the number of snapshots and their encoded size.
type Stats struct {
	Count    int   `json:"count"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max_bytes"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Count: len(s.entries), Bytes: s.size, MaxBytes: s.maxBytes}
}

func (s *Store) expiredLocked(e *entry) bool {
	return !e.expires.IsZero() && s.now().After(e.expires)
}

func (s *Store) deleteLocked(id string) {
	if e, ok := s.entries[id]; ok {
		s.size -= int64(len(e.data))
		delete(s.entries, id)
	}
}

// evictLocked drops the least recently used snapshots until at least
// target bytes are free and returns the bytes freed.
func (s *Store) evictLocked(target int64) int64 {
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return s.entries[a].accessedAt.Compare(s.entries[b].accessedAt)
	})
	var freed int64
	for _, id := range ids {
		if freed >= target {
			break
		}
		freed += int64(len(s.entries[id].data))
		s.deleteLocked(id)
	}
	return freed
}
