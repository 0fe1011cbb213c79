package permission

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MrEthical07/goGate/internal/pg"
	"github.com/lib/pq"
)

// PostgresStore reads roles and role_permissions. Array columns go through
// pq.Array.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a store bound to db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// LoadRoles implements Store.
func (s *PostgresStore) LoadRoles(ctx context.Context) ([]Role, error) {
	query := `
		SELECT id, name, visible_to_roles
		FROM roles
		ORDER BY name
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, pq.Array(&r.VisibleToRoles)); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return roles, nil
}

// LoadPermissions implements Store.
func (s *PostgresStore) LoadPermissions(ctx context.Context) ([]Permission, error) {
	query := `
		SELECT role_id, section, actions, is_active
		FROM role_permissions
		ORDER BY role_id, section
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.RoleID, &p.Section, pq.Array(&p.Actions), &p.IsActive); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return perms, nil
}

// ReplaceRolePermissions implements Store.
func (s *PostgresStore) ReplaceRolePermissions(ctx context.Context, roleID string, perms []Permission) error {
	return pg.WithTx(ctx, s.db, nil, func(ctx context.Context, tx pg.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		for _, p := range perms {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO role_permissions (role_id, section, actions, is_active) VALUES ($1, $2, $3, $4)`,
				roleID, p.Section, pq.Array(p.Actions), p.IsActive,
			)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
}
