// Copyright 2026 Chalk Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package tool

import (
	"fmt"
	"sort"
)

// Registry holds the closed set of tools available to both the
// conversation orchestrator and the protocol adapter. The set is fixed at
// construction: every tool is validated up front and the registry is
// immutable afterwards, so it can be shared read-only across goroutines
// without locking.
type Registry struct {
	tools map[string]Tool
	names []string // sorted, for deterministic enumeration
}

// NewRegistry builds a registry from the given tools. It fails if two
// tools share a name, if a name is empty, or if a tool has no input
// schema, so misconfiguration surfaces at startup rather than on first
// invocation.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]Tool, len(tools)),
		names: make([]string, 0, len(tools)),
	}

	for _, t := range tools {
		name := t.Name()
		if name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("duplicate tool name: %s", name)
		}
		if t.InputSchema() == nil {
			return nil, fmt.Errorf("tool %s has no input schema", name)
		}
		r.tools[name] = t
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	return r, nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tool names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// ListTools returns all registered tools in name order.
func (r *Registry) ListTools() []Tool {
	tools := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return len(r.tools)
}
