package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps agent roles to agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[Role]Agent
}

// NewRegistry creates a Registry holding agents.
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[Role]Agent)}
	for _, a := range agents {
		r.Register(a)
	}
	return r
}

// Register adds a, replacing any agent with the same role.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Role()] = a
}

// Get returns the agent registered for role.
func (r *Registry) Get(role Role) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[role]
	if !ok {
		return nil, fmt.Errorf("agent: no agent registered for role %q", role)
	}
	return a, nil
}

// Roles returns the registered roles in sorted order.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]Role, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
