// Package project provides the project entity persisted by the shell and the
// store interface its backends implement.
package project

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is written into every new project.
const CurrentVersion = "1.0"

// Project is the persisted state of a workflow: the serialized slot values
// of every applet plus shell metadata.
// PRINCIPLES:
// - KISS: Simple struct with clear fields
// - SRP: Only responsible for project data, applets own the encoding
type Project struct {
	ID        string                       `json:"id" msgpack:"id"`
	Name      string                       `json:"name" msgpack:"name"`
	Workflow  string                       `json:"workflow" msgpack:"workflow"`
	Applets   map[string]map[string][]byte `json:"applets" msgpack:"applets"`
	Metadata  Metadata                     `json:"metadata" msgpack:"metadata"`
	Timestamp time.Time                    `json:"timestamp" msgpack:"timestamp"`
	Version   string                       `json:"version" msgpack:"version"`
}

// Metadata contains shell state stored next to the applet data
type Metadata struct {
	ImageNames     []string `json:"image_names,omitempty" msgpack:"image_names,omitempty"`
	SelectedDrawer int      `json:"selected_drawer" msgpack:"selected_drawer"`
	CreatedBy      string   `json:"created_by,omitempty" msgpack:"created_by,omitempty"`
	Tags           []string `json:"tags,omitempty" msgpack:"tags,omitempty"`
}

// New creates an empty project for workflow.
func New(name, workflow string) *Project {
	return &Project{
		ID:        uuid.NewString(),
		Name:      name,
		Workflow:  workflow,
		Applets:   make(map[string]map[string][]byte),
		Timestamp: time.Now().UTC(),
		Version:   CurrentVersion,
	}
}

// Validate ensures project integrity
// PRINCIPLES:
// - SRP: Single responsibility - validation only
// - KISS: Simple validation rules, easy to understand
func (p *Project) Validate() error {
	if p.ID == "" {
		return ErrInvalidProjectID
	}
	if p.Workflow == "" {
		return ErrInvalidWorkflow
	}
	if p.Applets == nil {
		return ErrNilApplets
	}
	return nil
}

// SetSlot stores the encoded value of applet.slot.
func (p *Project) SetSlot(applet, slot string, data []byte) {
	if p.Applets == nil {
		p.Applets = make(map[string]map[string][]byte)
	}
	if p.Applets[applet] == nil {
		p.Applets[applet] = make(map[string][]byte)
	}
	p.Applets[applet][slot] = data
}

// Slot returns the encoded value of applet.slot.
func (p *Project) Slot(applet, slot string) ([]byte, bool) {
	data, ok := p.Applets[applet][slot]
	return data, ok
}

// AppletNames returns the names of applets with stored data, sorted.
func (p *Project) AppletNames() []string {
	return slices.Sorted(maps.Keys(p.Applets))
}

// Size is the total number of encoded bytes.
func (p *Project) Size() int {
	n := 0
	for _, slots := range p.Applets {
		for _, b := range slots {
			n += len(b)
		}
	}
	return n
}

// Clone returns a deep copy.
func (p *Project) Clone() *Project {
	c := *p
	c.Applets = make(map[string]map[string][]byte, len(p.Applets))
	for a, slots := range p.Applets {
		cs := make(map[string][]byte, len(slots))
		for s, b := range slots {
			cs[s] = slices.Clone(b)
		}
		c.Applets[a] = cs
	}
	c.Metadata.ImageNames = slices.Clone(p.Metadata.ImageNames)
	c.Metadata.Tags = slices.Clone(p.Metadata.Tags)
	return &c
}
