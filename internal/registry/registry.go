// Package registry enumerates the closed set of tools a plan may invoke,
// along with each tool's category and approval class, and defines the typed
// argument schema for every tool. Argument parsing happens once at plan
// ingest; downstream code consumes typed values rather than raw maps.
package registry

import (
	"fmt"
	"sort"
)

// Category classifies a tool's effect.
type Category string

const (
	CategoryRead    Category = "read"
	CategoryWrite   Category = "write"
	CategoryNetwork Category = "network"
)

// Spec describes one allowed tool.
type Spec struct {
	Name     string
	Category Category

	// RequiresApproval marks the high approval class: tools that mutate
	// the filesystem or reach the network.
	RequiresApproval bool
}

// Registry is an immutable name -> Spec lookup.
type Registry struct {
	tools map[string]Spec
}

// New creates a Registry over the given specs.
func New(specs ...Spec) *Registry {
	tools := make(map[string]Spec, len(specs))
	for _, s := range specs {
		tools[s.Name] = s
	}
	return &Registry{tools: tools}
}

// Default returns the fixed v1 tool set.
func Default() *Registry {
	return New(
		Spec{Name: "fs.read_text", Category: CategoryRead},
		Spec{Name: "fs.list_dir", Category: CategoryRead},
		Spec{Name: "doc.extract_pdf_text", Category: CategoryRead},
		Spec{Name: "fs.propose_write_file", Category: CategoryWrite},
		Spec{Name: "fs.apply_write_file", Category: CategoryWrite, RequiresApproval: true},
		Spec{Name: "fs.move", Category: CategoryWrite, RequiresApproval: true},
		Spec{Name: "fs.rename", Category: CategoryWrite, RequiresApproval: true},
		Spec{Name: "web.fetch", Category: CategoryNetwork, RequiresApproval: true},
	)
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (Spec, bool) {
	s, ok := r.tools[name]
	return s, ok
}

// Require returns the spec for a tool name or an error for unknown tools.
func (r *Registry) Require(name string) (Spec, error) {
	s, ok := r.tools[name]
	if !ok {
		return Spec{}, fmt.Errorf("unknown tool: %s", name)
	}
	return s, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
