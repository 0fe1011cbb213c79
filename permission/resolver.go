package permission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// snapshot is an immutable view of the whole matrix. Readers load it once per
// call, so a single resolution never mixes two versions.
type snapshot struct {
	version   uint64
	roles     map[string]Role
	rows      map[string][]Permission
	effective map[string]Matrix
}

// Resolver answers every authorization question in the system.
//
// Reads are lock-free against the current snapshot. Writers are serialized,
// persist through the Store first, then publish a new snapshot with one atomic
// swap.
type Resolver struct {
	store     Store
	registry  *Registry
	superRole string

	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

// NewResolver returns a Resolver with an empty matrix. Call Load before use.
// registry may be nil.
func NewResolver(store Store, registry *Registry, superRole string) *Resolver {
	r := &Resolver{
		store:     store,
		registry:  registry,
		superRole: strings.TrimSpace(superRole),
	}
	r.current.Store(buildSnapshot(0, nil, nil))
	return r
}

/*
====================================
LOAD
*/

// Load replaces the in-memory matrix with the store's contents. It holds the
// writer lock across the store reads so a concurrent update is never
// overwritten by an older read.
func (r *Resolver) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	roles, err := r.store.LoadRoles(ctx)
	if err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	perms, err := r.store.LoadPermissions(ctx)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	r.current.Store(buildSnapshot(r.current.Load().version+1, roles, perms))
	return nil
}

// Version increases on every Load and update.
func (r *Resolver) Version() uint64 {
	return r.current.Load().version
}

/*
====================================
READ
*/

// IsSuper reports whether roles include the super role.
func (r *Resolver) IsSuper(roles []string) bool {
	if r.superRole == "" {
		return false
	}
	for _, role := range roles {
		if role == r.superRole {
			return true
		}
	}
	return false
}

// EffectivePermissions returns the union of the active rows of every role in
// roles. The super role resolves to the wildcard matrix. Unknown roles grant
// nothing. The result is a fresh copy owned by the caller.
func (r *Resolver) EffectivePermissions(roles []string) Matrix {
	if r.IsSuper(roles) {
		return Matrix{Wildcard: {Wildcard}}
	}
	snap := r.current.Load()
	out := Matrix{}
	for _, role := range roles {
		for section, actions := range snap.effective[role] {
			out.merge(section, actions)
		}
	}
	return out
}

// HasPermission reports whether roles grant action on section.
func (r *Resolver) HasPermission(roles []string, section, action string) bool {
	if r.IsSuper(roles) {
		return true
	}
	snap := r.current.Load()
	for _, role := range roles {
		if snap.effective[role].Allows(section, action) {
			return true
		}
	}
	return false
}

// RolePermissions returns every row, active or not, stored for roleID.
func (r *Resolver) RolePermissions(roleID string) []Permission {
	return clonePermissions(r.current.Load().rows[roleID])
}

// Roles returns every known role sorted by name.
func (r *Resolver) Roles() []Role {
	snap := r.current.Load()
	out := make([]Role, 0, len(snap.roles))
	for _, role := range snap.roles {
		out = append(out, cloneRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// VisibleRoles returns the roles whose VisibleToRoles intersects viewerRoles.
// The super role sees every role.
func (r *Resolver) VisibleRoles(viewerRoles []string) []Role {
	all := r.Roles()
	if r.IsSuper(viewerRoles) {
		return all
	}
	viewers := make(map[string]struct{}, len(viewerRoles))
	for _, v := range viewerRoles {
		viewers[v] = struct{}{}
	}
	out := all[:0]
	for _, role := range all {
		for _, v := range role.VisibleToRoles {
			if _, ok := viewers[v]; ok {
				out = append(out, role)
				break
			}
		}
	}
	return out
}

/*
====================================
WRITE
*/

// UpdateRolePermissions replaces every row of roleID with updates. The new set
// is persisted first; readers switch from the old matrix to the new one in a
// single step and never observe a partial mix.
func (r *Resolver) UpdateRolePermissions(ctx context.Context, roleID string, updates []Update) error {
	rows, err := r.validateUpdates(roleID, updates)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	if _, ok := snap.roles[roleID]; !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	if err := r.store.ReplaceRolePermissions(ctx, roleID, rows); err != nil {
		return fmt.Errorf("replace role permissions: %w", err)
	}

	roles := make([]Role, 0, len(snap.roles))
	for _, role := range snap.roles {
		roles = append(roles, role)
	}
	perms := make([]Permission, 0)
	for id, existing := range snap.rows {
		if id == roleID {
			continue
		}
		perms = append(perms, existing...)
	}
	perms = append(perms, rows...)

	r.current.Store(buildSnapshot(snap.version+1, roles, perms))
	return nil
}

func (r *Resolver) validateUpdates(roleID string, updates []Update) ([]Permission, error) {
	if strings.TrimSpace(roleID) == "" {
		return nil, fmt.Errorf("%w: empty role id", ErrInvalidUpdate)
	}
	if roleID == r.superRole {
		return nil, fmt.Errorf("%w: super role bypasses the matrix", ErrInvalidUpdate)
	}
	seen := make(map[string]struct{}, len(updates))
	rows := make([]Permission, 0, len(updates))
	for _, u := range updates {
		section := strings.TrimSpace(u.Section)
		if section == "" {
			return nil, fmt.Errorf("%w: empty section", ErrInvalidUpdate)
		}
		if _, dup := seen[section]; dup {
			return nil, fmt.Errorf("%w: duplicate section %q", ErrInvalidUpdate, section)
		}
		seen[section] = struct{}{}
		actions := normalizeActions(u.Actions)
		if err := r.registry.Validate(section, actions); err != nil {
			return nil, err
		}
		rows = append(rows, Permission{RoleID: roleID, Section: section, Actions: actions, IsActive: u.IsActive})
	}
	return rows, nil
}

func buildSnapshot(version uint64, roles []Role, perms []Permission) *snapshot {
	s := &snapshot{
		version:   version,
		roles:     make(map[string]Role, len(roles)),
		rows:      make(map[string][]Permission),
		effective: make(map[string]Matrix),
	}
	for _, role := range roles {
		s.roles[role.ID] = cloneRole(role)
	}
	for _, p := range perms {
		p.Actions = normalizeActions(p.Actions)
		s.rows[p.RoleID] = append(s.rows[p.RoleID], p)
		if !p.IsActive {
			continue
		}
		m, ok := s.effective[p.RoleID]
		if !ok {
			m = Matrix{}
			s.effective[p.RoleID] = m
		}
		m.merge(p.Section, p.Actions)
	}
	for id := range s.rows {
		rows := s.rows[id]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Section < rows[j].Section })
	}
	return s
}

func cloneRole(r Role) Role {
	r.VisibleToRoles = append([]string(nil), r.VisibleToRoles...)
	return r
}

func clonePermissions(in []Permission) []Permission {
	out := make([]Permission, len(in))
	for i, p := range in {
		p.Actions = append([]string(nil), p.Actions...)
		out[i] = p
	}
	return out
}
