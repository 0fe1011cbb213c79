package blacklist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every Redis failure. It never means "not revoked".
var ErrStoreUnavailable = errors.New("blacklist store unavailable")

// Scope tells which entry matched a lookup.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeToken
	ScopeSubject
)

func (s Scope) String() string {
	switch s {
	case ScopeToken:
		return "token"
	case ScopeSubject:
		return "subject"
	default:
		return "none"
	}
}

// Verdict is the result of a blacklist lookup.
type Verdict struct {
	Revoked bool
	Scope   Scope
	Reason  string
}

// Store is the Redis-backed revocation list.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore returns a Store writing keys under prefix.
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "bl"
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) tokenKey(tokenID string) string {
	return s.prefix + ":t:" + tokenID
}

func (s *Store) subjectKey(subjectID string) string {
	return s.prefix + ":s:" + subjectID
}

// Revoke blacklists one token id for ttl. A non-positive ttl means the token is
// already expired and nothing is written.
func (s *Store) Revoke(ctx context.Context, tokenID, reason string, ttl time.Duration) error {
	if tokenID == "" {
		return errors.New("empty token id")
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.tokenKey(tokenID), reason, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RevokeSubject blacklists every token of subjectID issued at or before at. The
// marker lives for ttl, which should cover the longest refresh lifetime.
//
// Token iat has second precision, so a token minted in the same second as the
// marker is also revoked.
func (s *Store) RevokeSubject(ctx context.Context, subjectID, reason string, at time.Time, ttl time.Duration) error {
	if subjectID == "" {
		return errors.New("empty subject id")
	}
	if ttl <= 0 {
		return nil
	}
	value := strconv.FormatInt(at.Unix(), 10) + ":" + reason
	if err := s.redis.Set(ctx, s.subjectKey(subjectID), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Check looks up both the token entry and the subject marker in one MGET.
func (s *Store) Check(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (Verdict, error) {
	values, err := s.redis.MGet(ctx, s.tokenKey(tokenID), s.subjectKey(subjectID)).Result()
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(values) != 2 {
		return Verdict{}, fmt.Errorf("%w: unexpected MGET result size %d", ErrStoreUnavailable, len(values))
	}

	if reason, ok := values[0].(string); ok {
		return Verdict{Revoked: true, Scope: ScopeToken, Reason: reason}, nil
	}

	if raw, ok := values[1].(string); ok {
		revokedAt, reason, err := parseSubjectMarker(raw)
		if err != nil {
			// An unreadable marker still revokes.
			return Verdict{Revoked: true, Scope: ScopeSubject, Reason: "corrupt_marker"}, nil
		}
		if issuedAt.Unix() <= revokedAt {
			return Verdict{Revoked: true, Scope: ScopeSubject, Reason: reason}, nil
		}
	}

	return Verdict{}, nil
}

// IsRevoked reports whether the token or its subject is blacklisted.
func (s *Store) IsRevoked(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (bool, error) {
	v, err := s.Check(ctx, tokenID, subjectID, issuedAt)
	if err != nil {
		return false, err
	}
	return v.Revoked, nil
}

func parseSubjectMarker(raw string) (int64, string, error) {
	ts, reason, _ := strings.Cut(raw, ":")
	at, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return at, reason, nil
}
