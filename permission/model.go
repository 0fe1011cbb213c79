package permission

import (
	"errors"
	"sort"
	"strings"
)

// Wildcard matches any section or action. The super role resolves to
// Matrix{"*": {"*"}}.
const Wildcard = "*"

var (
	// ErrRoleNotFound is returned when an update targets an unknown role.
	ErrRoleNotFound = errors.New("role not found")
	// ErrInvalidUpdate is returned for malformed bulk updates.
	ErrInvalidUpdate = errors.New("invalid permission update")
)

// Role is a named bundle of permissions. VisibleToRoles lists the roles allowed
// to see this role in admin listings.
type Role struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	VisibleToRoles []string `json:"visibleToRoles"`
}

// Permission is one row of the matrix: the actions a role may perform on a
// section. Inactive rows are kept but grant nothing.
type Permission struct {
	RoleID   string   `json:"roleId"`
	Section  string   `json:"section"`
	Actions  []string `json:"actions"`
	IsActive bool     `json:"isActive"`
}

// Update is one entry of a bulk replacement for a single role.
type Update struct {
	Section  string   `json:"section"`
	Actions  []string `json:"actions"`
	IsActive bool     `json:"isActive"`
}

// Matrix maps a section to its allowed actions, sorted and de-duplicated.
type Matrix map[string][]string

// Allows reports whether the matrix grants action on section.
func (m Matrix) Allows(section, action string) bool {
	for _, s := range []string{section, Wildcard} {
		for _, a := range m[s] {
			if a == action || a == Wildcard {
				return true
			}
		}
	}
	return false
}

func (m Matrix) merge(section string, actions []string) {
	m[section] = normalizeActions(append(append([]string(nil), m[section]...), actions...))
}

func normalizeActions(actions []string) []string {
	seen := make(map[string]struct{}, len(actions))
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
