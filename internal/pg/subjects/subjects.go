// Package subjects is the Postgres-backed goGate.SubjectProvider over the
// users and user_roles tables.
package subjects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/pg"
	"github.com/lib/pq"
)

// Repository reads and writes subjects.
type Repository struct {
	db *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectSubject = `
	SELECT u.id, u.email, u.password_hash, u.is_active, u.deleted_at IS NOT NULL,
	       COALESCE(array_agg(ur.role_id ORDER BY ur.role_id) FILTER (WHERE ur.role_id IS NOT NULL), '{}')
	FROM users u
	LEFT JOIN user_roles ur ON ur.user_id = u.id
`

// GetSubject implements goGate.SubjectProvider.
func (r *Repository) GetSubject(ctx context.Context, id string) (goGate.Subject, error) {
	return r.scanOne(ctx, selectSubject+` WHERE u.id = $1 GROUP BY u.id`, id)
}

// GetSubjectByEmail implements goGate.SubjectProvider. Emails compare case-insensitively.
func (r *Repository) GetSubjectByEmail(ctx context.Context, email string) (goGate.Subject, error) {
	return r.scanOne(ctx, selectSubject+` WHERE lower(u.email) = lower($1) GROUP BY u.id`, strings.TrimSpace(email))
}

func (r *Repository) scanOne(ctx context.Context, query string, arg string) (goGate.Subject, error) {
	var s goGate.Subject
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&s.ID, &s.Email, &s.PasswordHash, &s.Active, &s.Deleted, pq.Array(&s.Roles),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return goGate.Subject{}, goGate.ErrSubjectNotFound
	}
	if err != nil {
		return goGate.Subject{}, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// Create inserts a subject and its role assignments in one transaction.
// PasswordHash must already be a PHC string.
func (r *Repository) Create(ctx context.Context, s goGate.Subject) error {
	return pg.WithTx(ctx, r.db, nil, func(ctx context.Context, tx pg.DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, is_active) VALUES ($1, $2, $3, $4)`,
			s.ID, strings.ToLower(strings.TrimSpace(s.Email)), s.PasswordHash, s.Active,
		)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return insertRoles(ctx, tx, s.ID, s.Roles)
	})
}

// SetRoles replaces a subject's role assignments.
func (r *Repository) SetRoles(ctx context.Context, id string, roles []string) error {
	return pg.WithTx(ctx, r.db, nil, func(ctx context.Context, tx pg.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return insertRoles(ctx, tx, id, roles)
	})
}

// SetActive flips is_active. Deactivated subjects fail every later
// authentication and refresh.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goGate.ErrSubjectNotFound
	}
	return nil
}

func insertRoles(ctx context.Context, tx pg.DBTX, id string, roles []string) error {
	for _, role := range roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, id, role,
		); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

var _ goGate.SubjectProvider = (*Repository)(nil)
