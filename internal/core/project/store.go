// Package project provides project persistence interfaces
package project

import (
	"context"
	"slices"
	"time"
)

// Store interface for project persistence (DIP - Dependency Inversion)
// PRINCIPLES:
// - ISP: Interface segregation with ≤5 methods
// - DIP: The shell depends on interface, not implementations
type Store interface {
	// Save persists a project, replacing one with the same ID
	Save(ctx context.Context, p *Project) error

	// Load retrieves a project by ID
	Load(ctx context.Context, id string) (*Project, error)

	// List returns projects matching the filter, newest first
	List(ctx context.Context, filter Filter) ([]*Project, error)

	// Delete removes a project by ID
	Delete(ctx context.Context, id string) error
}

// Filter for project queries
type Filter struct {
	Workflow string     `json:"workflow,omitempty"`
	Name     string     `json:"name,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Offset   int        `json:"offset,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Before   *time.Time `json:"before,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// Validate ensures filter parameters are valid
func (f *Filter) Validate() error {
	if f.Limit < 0 {
		return ErrInvalidLimit
	}
	if f.Offset < 0 {
		return ErrInvalidOffset
	}
	if f.Since != nil && f.Before != nil && f.Since.After(*f.Before) {
		return ErrInvalidTimeRange
	}
	return nil
}

// Matches reports whether p passes the filter, ignoring Limit and Offset.
func (f *Filter) Matches(p *Project) bool {
	if f.Workflow != "" && p.Workflow != f.Workflow {
		return false
	}
	if f.Name != "" && p.Name != f.Name {
		return false
	}
	if f.Since != nil && p.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Before != nil && !p.Timestamp.Before(*f.Before) {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(p.Metadata.Tags, tag) {
			return false
		}
	}
	return true
}

// Page applies Offset and Limit to an already sorted result.
func (f *Filter) Page(ps []*Project) []*Project {
	if f.Offset >= len(ps) {
		return nil
	}
	ps = ps[f.Offset:]
	if f.Limit > 0 && len(ps) > f.Limit {
		ps = ps[:f.Limit]
	}
	return ps
}
