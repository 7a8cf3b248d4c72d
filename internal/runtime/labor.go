package runtime

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yanmxa/kimi/internal/agent"
)

// Entry binds a sub-agent to the runtime it executes with.
type Entry struct {
	Agent   *agent.Agent
	Runtime *Runtime
}

// Market is the registry of sub-agents visible to one Soul. Fixed
// entries come from the YAML spec; dynamic entries are created at
// runtime by the CreateSubagent tool and shared with the creator's
// dynamic descendants.
type Market struct {
	mu      sync.RWMutex
	fixed   map[string]*Entry
	dynamic map[string]*Entry
}

// NewMarket creates an empty market.
func NewMarket() *Market {
	return &Market{
		fixed:   map[string]*Entry{},
		dynamic: map[string]*Entry{},
	}
}

// RegisterFixed adds a spec-declared sub-agent.
func (m *Market) RegisterFixed(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := e.Agent.Name
	if _, dup := m.fixed[name]; dup {
		return fmt.Errorf("sub-agent %q already registered", name)
	}
	m.fixed[name] = e
	return nil
}

// RegisterDynamic adds a runtime-created sub-agent. Names must be
// unique across the combined pool.
func (m *Market) RegisterDynamic(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := e.Agent.Name
	if _, dup := m.fixed[name]; dup {
		return fmt.Errorf("sub-agent %q already registered", name)
	}
	if _, dup := m.dynamic[name]; dup {
		return fmt.Errorf("sub-agent %q already registered", name)
	}
	m.dynamic[name] = e
	return nil
}

// Lookup finds a sub-agent in the combined (fixed + dynamic) pool.
func (m *Market) Lookup(name string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.fixed[name]; ok {
		return e, true
	}
	e, ok := m.dynamic[name]
	return e, ok
}

// Names lists the registered sub-agents, sorted.
func (m *Market) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.fixed)+len(m.dynamic))
	for n := range m.fixed {
		names = append(names, n)
	}
	for n := range m.dynamic {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
