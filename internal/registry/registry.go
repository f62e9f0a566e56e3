// Package registry holds the set of Language Server commands the proxy is
// willing to spawn, and resolves a WebSocket connection's requested name to
// one of them.
package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerSpec is a named command template for starting a Language Server.
type ServerSpec struct {
	// Name is how a client selects this spec via the `name` query parameter.
	Name string `yaml:"name"`
	// Command is the executable to run.
	Command string `yaml:"command"`
	// Args are passed to Command in order.
	Args []string `yaml:"args"`
}

// Registry is an ordered, immutable-after-construction mapping from name to
// ServerSpec. Order matters: a connection with no `name` query parameter
// binds to the first entry.
type Registry struct {
	specs []ServerSpec
	byName map[string]int
}

// New builds a Registry from an ordered list of specs. Later specs with a
// colliding name shadow earlier ones; the caller should log the returned
// count of shadowed names if it cares to warn about it.
func New(specs []ServerSpec) (*Registry, int) {
	r := &Registry{
		byName: make(map[string]int, len(specs)),
	}
	shadowed := 0
	for _, s := range specs {
		if _, exists := r.byName[s.Name]; exists {
			shadowed++
		}
		r.specs = append(r.specs, s)
		r.byName[s.Name] = len(r.specs) - 1
	}
	return r, shadowed
}

// Len reports how many specs are registered.
func (r *Registry) Len() int {
	return len(r.specs)
}

// Default returns the first registered spec. Panics if the registry is
// empty; callers must check Len() at startup.
func (r *Registry) Default() ServerSpec {
	return r.specs[0]
}

// Lookup resolves name to its ServerSpec. An empty name, or a name with no
// match, resolves to the first entry in the registry.
func (r *Registry) Lookup(name string) (spec ServerSpec, usedDefault bool) {
	if name != "" {
		if idx, ok := r.byName[name]; ok {
			return r.specs[idx], false
		}
	}
	return r.Default(), true
}

// ParseCommandTail splits a CLI tail (the tokens after the option delimiter
// `--`) into one or more (command, args...) groups, each introduced by a
// further `--`. Each group is registered under its command's basename.
//
//	["langserver", "--stdio"]                              -> one spec named "langserver"
//	["langserver", "--", "langserver2", "--stdio"]          -> two specs
func ParseCommandTail(tail []string) []ServerSpec {
	var groups [][]string
	current := make([]string, 0, len(tail))
	for _, tok := range tail {
		if tok == "--" {
			if len(current) > 0 {
				groups = append(groups, current)
			}
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}

	specs := make([]ServerSpec, 0, len(groups))
	for _, g := range groups {
		specs = append(specs, ServerSpec{
			Name:    filepath.Base(g[0]),
			Command: g[0],
			Args:    g[1:],
		})
	}
	return specs
}

// LoadFile reads additional named ServerSpecs from a YAML file of the form:
//
//	servers:
//	  - name: gopls
//	    command: gopls
//	    args: ["-mode=stdio"]
//
// Entries from the file are ordered ahead of the CLI tail's specs so a
// deployment's checked-in defaults win the "no name given" case, while the
// CLI tail can still add or shadow entries by name.
func LoadFile(path string) ([]ServerSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading servers file %q: %w", path, err)
	}
	var doc struct {
		Servers []ServerSpec `yaml:"servers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing servers file %q: %w", path, err)
	}
	return doc.Servers, nil
}
