// Package workflow reads HCL workflow files and builds the graph, the
// applets and the shell they describe.
package workflow

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/FynnBe/ilastik/pkg/validation"
)

//go:embed workflows/*.hcl
var builtin embed.FS

// Spec is a decoded workflow file.
type Spec struct {
	Workflow       string        `hcl:"workflow" validate:"required,slot_name"`
	ImageNames     string        `hcl:"image_names,optional" validate:"omitempty,slot_ref"`
	SelectedDrawer *int          `hcl:"selected_drawer,optional" validate:"omitempty,gte=0"`
	Export         string        `hcl:"export,optional" validate:"omitempty,slot_ref"`
	Applets        []AppletSpec  `hcl:"applet,block" validate:"required,min=1,dive"`
	Connections    []ConnectSpec `hcl:"connect,block" validate:"dive"`
}

// AppletSpec declares one applet. Settings is an optional object whose
// attributes are assigned to input slots of the applet operator.
type AppletSpec struct {
	Name     string         `hcl:"name,label" validate:"applet_name"`
	Type     string         `hcl:"type" validate:"required,slot_name"`
	Settings hcl.Expression `hcl:"settings,optional" validate:"-"`
}

// ConnectSpec makes To read from From, both "<applet>.<slot>".
type ConnectSpec struct {
	From string `hcl:"from" validate:"required,slot_ref"`
	To   string `hcl:"to" validate:"required,slot_ref"`
}

// Parse decodes and validates a workflow file.
func Parse(src []byte, filename string) (*Spec, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var spec Spec
	if diags := gohcl.DecodeBody(file.Body, nil, &spec); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &spec, nil
}

// Load parses the workflow file at path.
func Load(path string) (*Spec, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(src, path)
}

// Builtin returns an embedded workflow by name.
func Builtin(name string) (*Spec, error) {
	p := path.Join("workflows", name+".hcl")
	src, err := builtin.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (have %s)", ErrUnknownWorkflow, name, strings.Join(BuiltinNames(), ", "))
	}
	return Parse(src, p)
}

// BuiltinNames lists the embedded workflows.
func BuiltinNames() []string {
	entries, _ := fs.ReadDir(builtin, "workflows")
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".hcl"))
	}
	slices.Sort(names)
	return names
}

// Resolve treats ref as a workflow file when it ends in .hcl and as a
// builtin name otherwise.
func Resolve(ref string) (*Spec, error) {
	if strings.HasSuffix(ref, ".hcl") {
		return Load(ref)
	}
	return Builtin(ref)
}

// Validate checks struct tags, then the references between blocks.
func (s *Spec) Validate() error {
	if err := validation.ValidateWithPlayground(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	var errs validation.ValidationErrors
	seen := map[string]bool{}
	for _, a := range s.Applets {
		if seen[a.Name] {
			errs.Add("applet", a.Name, "duplicate applet %q", a.Name)
		}
		seen[a.Name] = true
	}
	ref := func(field, r string) {
		if applet, _, err := validation.SplitSlotRef(r); err == nil && !seen[applet] {
			errs.Add(field, r, "%s refers to undeclared applet %q", field, applet)
		}
	}
	for _, c := range s.Connections {
		ref("from", c.From)
		ref("to", c.To)
	}
	if s.ImageNames != "" {
		ref("image_names", s.ImageNames)
	}
	if s.Export != "" {
		ref("export", s.Export)
	}
	if s.SelectedDrawer != nil && *s.SelectedDrawer >= len(s.Applets) {
		errs.Add("selected_drawer", *s.SelectedDrawer, "only %d applets declared", len(s.Applets))
	}
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return nil
}
