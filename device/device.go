// Package device tracks one refresh-token lineage per device per subject.
//
// A refresh succeeds only while the device is active and the presented token
// hashes to the value recorded at the last issuance. Store implementations
// perform that compare-and-swap atomically so concurrent refreshes with the
// same token produce at most one winner.
package device

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means no device record exists for the id and subject.
	ErrNotFound = errors.New("device not found")
	// ErrInactive means the device was logged out or revoked.
	ErrInactive = errors.New("device inactive")
	// ErrHashMismatch means the presented refresh token is not the current one
	// for the device. This is the replay signal.
	ErrHashMismatch = errors.New("refresh token hash mismatch")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("device store unavailable")
)

// Class groups device types that share a refresh lifetime.
type Class string

const (
	ClassWeb    Class = "web"
	ClassMobile Class = "mobile"
)

// ClassFor maps a client-supplied device type to its class. Unknown and empty
// types are treated as web, the shorter lifetime.
func ClassFor(deviceType string) Class {
	switch strings.ToLower(strings.TrimSpace(deviceType)) {
	case "android", "ios", "mobile":
		return ClassMobile
	default:
		return ClassWeb
	}
}

// Meta is the device information a client supplies at login or refresh.
type Meta struct {
	DeviceID   string
	DeviceType string
	UserAgent  string
	IP         string
}

// Device is one registered client of a subject.
type Device struct {
	ID               string
	SubjectID        string
	Type             string
	Class            Class
	Family           string
	RefreshTokenHash [32]byte
	Active           bool
	UserAgent        string
	IP               string
	CreatedAt        time.Time
	LastSeenAt       time.Time
}

// New prepares a device record for subjectID. A missing device id is generated.
// Every call starts a fresh token family; the refresh hash is filled in by the
// caller once the token is minted.
func New(subjectID string, meta Meta, now time.Time) *Device {
	id := strings.TrimSpace(meta.DeviceID)
	if id == "" {
		id = uuid.NewString()
	}
	typ := strings.ToLower(strings.TrimSpace(meta.DeviceType))
	if typ == "" {
		typ = string(ClassWeb)
	}
	return &Device{
		ID:         id,
		SubjectID:  subjectID,
		Type:       typ,
		Class:      ClassFor(typ),
		Family:     uuid.NewString(),
		Active:     true,
		UserAgent:  meta.UserAgent,
		IP:         meta.IP,
		CreatedAt:  now,
		LastSeenAt: now,
	}
}

// HashToken returns the digest stored in place of a refresh token.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// RotateRequest describes one compare-and-swap of a device's refresh hash.
type RotateRequest struct {
	SubjectID string
	DeviceID  string
	Presented [32]byte
	Next      [32]byte
	SeenAt    time.Time
	// TTL extends the record to the new refresh token's lifetime.
	TTL time.Duration
}

// Store persists devices.
type Store interface {
	// Register creates or replaces the record for d.ID, keeping one record per
	// device id. ttl bounds how long the record outlives its last refresh.
	Register(ctx context.Context, d *Device, ttl time.Duration) error
	Get(ctx context.Context, deviceID string) (*Device, error)
	// Rotate swaps Presented for Next only if the device belongs to the subject,
	// is active and currently holds Presented. Otherwise it returns ErrNotFound,
	// ErrHashMismatch or ErrInactive, in that order of precedence: a stale
	// hash is a mismatch even on an inactive device.
	Rotate(ctx context.Context, req RotateRequest) error
	Deactivate(ctx context.Context, subjectID, deviceID string) error
	DeactivateAll(ctx context.Context, subjectID string) (int, error)
	ListActive(ctx context.Context, subjectID string) ([]Device, error)
}
