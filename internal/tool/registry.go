package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yanmxa/kimi/internal/config"
)

// Deps is the typed collaborator record handed to tool constructors.
type Deps struct {
	Config  *config.Config
	WorkDir string
}

// Constructor builds one tool instance from its collaborators.
type Constructor func(Deps) Tool

// Registry is the build-time table mapping tool identifiers to typed
// constructors. Agent specs reference tools by these identifiers
// ("module_identifier:ClassName"); references are validated at
// agent-load time.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates a registry pre-populated with the core builtins.
func NewRegistry() *Registry {
	r := &Registry{ctors: map[string]Constructor{}}
	r.Register(SendDMailID, func(Deps) Tool { return &SendDMail{} })
	r.Register(TaskID, func(Deps) Tool { return &Task{} })
	r.Register(CreateSubagentID, func(Deps) Tool { return &CreateSubagent{} })
	return r
}

// Register adds a constructor under an identifier.
func (r *Registry) Register(id string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[id] = ctor
}

// Known reports whether an identifier is registered.
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[id]
	return ok
}

// Names returns all registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for id := range r.ctors {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// Resolve instantiates the identified tools with the given deps.
func (r *Registry) Resolve(ids []string, deps Deps) ([]Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(ids))
	seen := map[string]bool{}
	for _, id := range ids {
		ctor, ok := r.ctors[id]
		if !ok {
			return nil, fmt.Errorf("unknown tool identifier %q", id)
		}
		t := ctor(deps)
		if seen[t.Name()] {
			return nil, fmt.Errorf("duplicate tool name %q (from %q)", t.Name(), id)
		}
		seen[t.Name()] = true
		tools = append(tools, t)
	}
	return tools, nil
}
