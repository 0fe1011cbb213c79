package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry is the catalog of known sections and the actions each accepts. The
// Resolver uses it to reject bulk updates naming unknown sections or actions.
//
// A nil Registry accepts everything.
type Registry struct {
	mu       sync.RWMutex
	sections map[string]map[string]struct{}
	frozen   bool
}

// NewRegistry returns an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{sections: make(map[string]map[string]struct{})}
}

// Register declares section with its actions. Registering the same section
// again adds actions. Must be called before Freeze.
func (r *Registry) Register(section string, actions ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	section = strings.TrimSpace(section)
	if section == "" || section == Wildcard {
		return errors.New("section name invalid")
	}
	set, ok := r.sections[section]
	if !ok {
		set = make(map[string]struct{})
		r.sections[section] = set
	}
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" {
			return errors.New("action name cannot be empty")
		}
		set[a] = struct{}{}
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Validate checks that section is registered and every action is declared for
// it. The wildcard action is always accepted.
func (r *Registry) Validate(section string, actions []string) error {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sections[section]
	if !ok {
		return fmt.Errorf("%w: unknown section %q", ErrInvalidUpdate, section)
	}
	for _, a := range actions {
		if a == Wildcard {
			continue
		}
		if _, ok := set[a]; !ok {
			return fmt.Errorf("%w: unknown action %q for section %q", ErrInvalidUpdate, a, section)
		}
	}
	return nil
}

// Sections returns the registered sections with their sorted actions.
func (r *Registry) Sections() Matrix {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(Matrix, len(r.sections))
	for s, set := range r.sections {
		actions := make([]string, 0, len(set))
		for a := range set {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		out[s] = actions
	}
	return out
}
