package device

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goGate/internal/pg"
)

// PostgresStore persists devices in the devices table. The refresh hash swap is
// a conditional UPDATE; a miss is classified with a follow-up read.
type PostgresStore struct {
	db  pg.DBTX
	now func() time.Time
}

// NewPostgresStore returns a store bound to db (a *sql.DB or *sql.Tx).
func NewPostgresStore(db pg.DBTX) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Register implements Store.
func (s *PostgresStore) Register(ctx context.Context, d *Device, ttl time.Duration) error {
	if d == nil || d.ID == "" || d.SubjectID == "" {
		return errors.New("device requires id and subject")
	}
	if ttl <= 0 {
		return errors.New("device ttl must be positive")
	}
	query := `
		INSERT INTO devices (device_id, subject_id, device_type, device_class, family,
			refresh_token_hash, active, user_agent, ip, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8, $9, $9, $10)
		ON CONFLICT (device_id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			device_type = EXCLUDED.device_type,
			device_class = EXCLUDED.device_class,
			family = EXCLUDED.family,
			refresh_token_hash = EXCLUDED.refresh_token_hash,
			active = TRUE,
			user_agent = EXCLUDED.user_agent,
			ip = EXCLUDED.ip,
			created_at = EXCLUDED.created_at,
			last_seen_at = EXCLUDED.last_seen_at,
			expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.SubjectID, d.Type, string(d.Class), d.Family,
		d.RefreshTokenHash[:], d.UserAgent, d.IP,
		d.CreatedAt, d.CreatedAt.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, deviceID string) (*Device, error) {
	query := `
		SELECT device_id, subject_id, device_type, device_class, family, refresh_token_hash,
			active, user_agent, ip, created_at, last_seen_at
		FROM devices
		WHERE device_id = $1 AND expires_at > $2
	`
	d, err := scanDevice(s.db.QueryRowContext(ctx, query, deviceID, s.now()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return d, nil
}

// Rotate implements Store.
func (s *PostgresStore) Rotate(ctx context.Context, req RotateRequest) error {
	query := `
		UPDATE devices
		SET refresh_token_hash = $1, last_seen_at = $2, expires_at = $3
		WHERE device_id = $4 AND subject_id = $5 AND active AND refresh_token_hash = $6 AND expires_at > $2
	`
	res, err := s.db.ExecContext(ctx, query,
		req.Next[:], req.SeenAt, req.SeenAt.Add(req.TTL),
		req.DeviceID, req.SubjectID, req.Presented[:],
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 1 {
		return nil
	}
	return s.classifyMiss(ctx, req)
}

func (s *PostgresStore) classifyMiss(ctx context.Context, req RotateRequest) error {
	query := `
		SELECT subject_id, active, refresh_token_hash, expires_at
		FROM devices
		WHERE device_id = $1
	`
	var (
		subjectID string
		active    bool
		hash      []byte
		expiresAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, req.DeviceID).Scan(&subjectID, &active, &hash, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch {
	case subjectID != req.SubjectID || !expiresAt.After(req.SeenAt):
		return ErrNotFound
	case !bytes.Equal(hash, req.Presented[:]):
		return ErrHashMismatch
	default:
		return ErrInactive
	}
}

// Deactivate implements Store.
func (s *PostgresStore) Deactivate(ctx context.Context, subjectID, deviceID string) error {
	query := `
		UPDATE devices SET active = FALSE
		WHERE device_id = $1 AND subject_id = $2
	`
	res, err := s.db.ExecContext(ctx, query, deviceID, subjectID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAll implements Store.
func (s *PostgresStore) DeactivateAll(ctx context.Context, subjectID string) (int, error) {
	query := `
		UPDATE devices SET active = FALSE
		WHERE subject_id = $1 AND active
	`
	res, err := s.db.ExecContext(ctx, query, subjectID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(n), nil
}

// ListActive implements Store.
func (s *PostgresStore) ListActive(ctx context.Context, subjectID string) ([]Device, error) {
	query := `
		SELECT device_id, subject_id, device_type, device_class, family, refresh_token_hash,
			active, user_agent, ip, created_at, last_seen_at
		FROM devices
		WHERE subject_id = $1 AND active AND expires_at > $2
		ORDER BY last_seen_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return devices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d     Device
		class string
		hash  []byte
	)
	if err := row.Scan(&d.ID, &d.SubjectID, &d.Type, &class, &d.Family, &hash,
		&d.Active, &d.UserAgent, &d.IP, &d.CreatedAt, &d.LastSeenAt); err != nil {
		return nil, err
	}
	if len(hash) != len(d.RefreshTokenHash) {
		return nil, fmt.Errorf("device %s: corrupt refresh hash", d.ID)
	}
	copy(d.RefreshTokenHash[:], hash)
	d.Class = Class(class)
	return &d, nil
}
