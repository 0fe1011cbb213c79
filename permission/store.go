package permission

import (
	"context"
	"sync"
)

// Store persists roles and the permission matrix.
type Store interface {
	LoadRoles(ctx context.Context) ([]Role, error)
	LoadPermissions(ctx context.Context) ([]Permission, error)
	// ReplaceRolePermissions swaps every row of roleID for rows in one
	// transaction.
	ReplaceRolePermissions(ctx context.Context, roleID string, rows []Permission) error
}

// MemoryStore keeps the matrix in process. It backs tests and the demo binary.
type MemoryStore struct {
	mu    sync.RWMutex
	roles []Role
	rows  map[string][]Permission
}

// NewMemoryStore seeds a MemoryStore.
func NewMemoryStore(roles []Role, perms []Permission) *MemoryStore {
	s := &MemoryStore{rows: make(map[string][]Permission)}
	s.roles = append(s.roles, roles...)
	for _, p := range perms {
		s.rows[p.RoleID] = append(s.rows[p.RoleID], p)
	}
	return s
}

// LoadRoles implements Store.
func (s *MemoryStore) LoadRoles(context.Context) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Role, len(s.roles))
	for i, r := range s.roles {
		out[i] = cloneRole(r)
	}
	return out, nil
}

// LoadPermissions implements Store.
func (s *MemoryStore) LoadPermissions(context.Context) ([]Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Permission
	for _, rows := range s.rows {
		out = append(out, clonePermissions(rows)...)
	}
	return out, nil
}

// ReplaceRolePermissions implements Store.
func (s *MemoryStore) ReplaceRolePermissions(_ context.Context, roleID string, rows []Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[roleID] = clonePermissions(rows)
	return nil
}
