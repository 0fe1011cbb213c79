package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
)

func newPostgresStoreTest(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresStore(db), mock, db
}

var deviceColumns = []string{
	"device_id", "subject_id", "device_type", "device_class", "family", "refresh_token_hash",
	"active", "user_agent", "ip", "created_at", "last_seen_at",
}

func TestPostgresRegisterUpserts(t *testing.T) {
	store, mock, db := newPostgresStoreTest(t)
	defer db.Close()

	now := time.Now()
	d := New("u1", Meta{DeviceID: "d1", DeviceType: "android", UserAgent: "ua", IP: "10.0.0.1"}, now)
	d.RefreshTokenHash = HashToken("r0")
	hash := HashToken("r0")

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+devices.*ON\s+CONFLICT\s+\(device_id\)\s+DO\s+UPDATE`).
		WithArgs("d1", "u1", "android", "mobile", d.Family, hash[:], "ua", "10.0.0.1", now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Register(context.Background(), d, time.Hour); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotateSuccess(t *testing.T) {
	store, mock, db := newPostgresStoreTest(t)
	defer db.Close()

	now := time.Now()
	presented, next := HashToken("r0"), HashToken("r1")
	mock.ExpectExec(`(?s)^\s*UPDATE\s+devices\s+SET\s+refresh_token_hash\s*=\s*\$1.*refresh_token_hash\s*=\s*\$6`).
		WithArgs(next[:], now, now.Add(time.Hour), "d1", "u1", presented[:]).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Rotate(context.Background(), RotateRequest{SubjectID: "u1", DeviceID: "d1", Presented: presented, Next: next, SeenAt: now, TTL: time.Hour})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRotateClassifiesMiss(t *testing.T) {
	now := time.Now()
	presented := HashToken("presented")
	current := HashToken("current")
	cols := []string{"subject_id", "active", "refresh_token_hash", "expires_at"}
	cases := []struct {
		name string
		rows *sqlmock.Rows
		err  error
		want error
	}{
		{"missing", nil, sql.ErrNoRows, ErrNotFound},
		{"foreign", sqlmock.NewRows(cols).AddRow("u2", true, presented[:], now.Add(time.Hour)), nil, ErrNotFound},
		{"expired", sqlmock.NewRows(cols).AddRow("u1", true, presented[:], now.Add(-time.Second)), nil, ErrNotFound},
		{"inactive", sqlmock.NewRows(cols).AddRow("u1", false, presented[:], now.Add(time.Hour)), nil, ErrInactive},
		{"replay", sqlmock.NewRows(cols).AddRow("u1", true, current[:], now.Add(time.Hour)), nil, ErrHashMismatch},
		{"replay on inactive", sqlmock.NewRows(cols).AddRow("u1", false, current[:], now.Add(time.Hour)), nil, ErrHashMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock, db := newPostgresStoreTest(t)
			defer db.Close()

			mock.ExpectExec(`(?s)^\s*UPDATE\s+devices`).WillReturnResult(sqlmock.NewResult(0, 0))
			q := mock.ExpectQuery(`(?s)SELECT\s+subject_id,\s*active,\s*refresh_token_hash,\s*expires_at\s+FROM\s+devices`).WithArgs("d1")
			if tc.err != nil {
				q.WillReturnError(tc.err)
			} else {
				q.WillReturnRows(tc.rows)
			}

			err := store.Rotate(context.Background(), RotateRequest{SubjectID: "u1", DeviceID: "d1", Presented: presented, SeenAt: now, TTL: time.Hour})
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPostgresRotateDBError(t *testing.T) {
	store, mock, db := newPostgresStoreTest(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^\s*UPDATE\s+devices`).WillReturnError(errors.New("db down"))

	err := store.Rotate(context.Background(), RotateRequest{SubjectID: "u1", DeviceID: "d1", SeenAt: time.Now()})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestPostgresListActive(t *testing.T) {
	store, mock, db := newPostgresStoreTest(t)
	defer db.Close()

	now := time.Now().Truncate(time.Second)
	store.now = func() time.Time { return now }
	h1, h2 := HashToken("a"), HashToken("b")
	rows := sqlmock.NewRows(deviceColumns).
		AddRow("d2", "u1", "android", "mobile", "f2", h2[:], true, "", "", now, now).
		AddRow("d1", "u1", "web", "web", "f1", h1[:], true, "", "", now.Add(-time.Hour), now.Add(-time.Minute))
	mock.ExpectQuery(`(?s)FROM\s+devices\s+WHERE\s+subject_id\s*=\s*\$1\s+AND\s+active`).
		WithArgs("u1", now).
		WillReturnRows(rows)

	got, err := store.ListActive(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []Device{
		{ID: "d2", SubjectID: "u1", Type: "android", Class: ClassMobile, Family: "f2", RefreshTokenHash: h2, Active: true, CreatedAt: now, LastSeenAt: now},
		{ID: "d1", SubjectID: "u1", Type: "web", Class: ClassWeb, Family: "f1", RefreshTokenHash: h1, Active: true, CreatedAt: now.Add(-time.Hour), LastSeenAt: now.Add(-time.Minute)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListActive mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresDeactivate(t *testing.T) {
	store, mock, db := newPostgresStoreTest(t)
	defer db.Close()

	mock.ExpectExec(`(?s)UPDATE\s+devices\s+SET\s+active\s*=\s*FALSE\s+WHERE\s+device_id`).
		WithArgs("d1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Deactivate(context.Background(), "u1", "d1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectExec(`(?s)UPDATE\s+devices\s+SET\s+active\s*=\s*FALSE\s+WHERE\s+subject_id`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := store.DeactivateAll(context.Background(), "u1")
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deactivated, got %d (%v)", n, err)
	}
}
