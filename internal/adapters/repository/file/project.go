// Package file stores project snapshots as project files in a directory,
// one "<id>.ilp" file per project.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

// Ext is the project file extension.
const Ext = ".ilp"

// Store implements project.Store on a directory
type Store struct {
	dir        string
	serializer *serialization.Serializer
	mu         sync.Mutex // serializes writes and deletes
}

// Open uses dir, creating it when missing.
func Open(dir string, serializer *serialization.Serializer) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("project directory: %w", err)
	}
	if serializer == nil {
		serializer = serialization.Default()
	}
	return &Store{dir: dir, serializer: serializer}, nil
}

// Dir returns the directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w: %q", project.ErrInvalidProjectID, id)
	}
	return filepath.Join(s.dir, id+Ext), nil
}

func (s *Store) Save(_ context.Context, p *project.Project) error {
	if p == nil {
		return project.ErrInvalidProjectID
	}
	if err := p.Validate(); err != nil {
		return err
	}
	path, err := s.path(p.ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.serializer.WriteFile(path, p); err != nil {
		return fmt.Errorf("%w: %v", project.ErrSaveFailed, err)
	}
	return nil
}

func (s *Store) Load(_ context.Context, id string) (*project.Project, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	var p project.Project
	if err := s.serializer.ReadFile(path, &p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, project.ErrProjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", project.ErrLoadFailed, err)
	}
	return &p, nil
}

// List decodes every project file in the directory. Files that fail to
// decode are skipped.
func (s *Store) List(ctx context.Context, filter project.Filter) ([]*project.Project, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []*project.Project
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || filepath.Ext(e.Name()) != Ext {
			continue
		}
		p, err := s.Load(ctx, strings.TrimSuffix(e.Name(), Ext))
		if err != nil {
			continue
		}
		if filter.Matches(p) {
			p.Applets = nil
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *project.Project) int { return b.Timestamp.Compare(a.Timestamp) })
	return filter.Page(out), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return project.ErrProjectNotFound
		}
		return fmt.Errorf("%w: %v", project.ErrDeleteFailed, err)
	}
	return nil
}
