// Package testkit builds a goGate.Engine on miniredis and in-memory stores
// for tests of the adapters around it.
package testkit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// Password is the password of every seeded subject.
const Password = "testkit-password-1"

// Subjects is a concurrency-safe in-memory SubjectProvider.
type Subjects struct {
	mu sync.RWMutex
	m  map[string]goGate.Subject
}

func NewSubjects(subjects ...goGate.Subject) *Subjects {
	s := &Subjects{m: make(map[string]goGate.Subject, len(subjects))}
	for _, sub := range subjects {
		s.m[sub.ID] = sub
	}
	return s
}

// Put inserts or replaces a subject.
func (s *Subjects) Put(sub goGate.Subject) {
	s.mu.Lock()
	s.m[sub.ID] = sub
	s.mu.Unlock()
}

func (s *Subjects) GetSubject(_ context.Context, id string) (goGate.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.m[id]
	if !ok {
		return goGate.Subject{}, goGate.ErrSubjectNotFound
	}
	return sub, nil
}

func (s *Subjects) GetSubjectByEmail(_ context.Context, email string) (goGate.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.m {
		if strings.EqualFold(sub.Email, email) {
			return sub, nil
		}
	}
	return goGate.Subject{}, goGate.ErrSubjectNotFound
}

// Kit is a built engine and the fakes behind it.
type Kit struct {
	Engine   *goGate.Engine
	Redis    *miniredis.Miniredis
	Client   *redis.Client
	Subjects *Subjects
	Perms    *permission.MemoryStore
}

// Config returns DefaultConfig with fresh Ed25519 keys and the cheapest
// password cost Validate accepts.
func Config(t testing.TB) goGate.Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	cfg := goGate.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

// HashPassword hashes plain with the cost of cfg.
func HashPassword(t testing.TB, cfg goGate.Config, plain string) string {
	t.Helper()
	h, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("password.NewArgon2: %v", err)
	}
	encoded, err := h.Hash(plain)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return encoded
}

// New builds an engine with two subjects, u1 "editor@example.com" holding
// role editor and u2 "guest@example.com" with no role. Editors may read and
// write posts.
func New(t testing.TB, mutate func(*goGate.Config)) *Kit {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := Config(t)
	if mutate != nil {
		mutate(&cfg)
	}

	hash := HashPassword(t, cfg, Password)
	subjects := NewSubjects(
		goGate.Subject{ID: "u1", Email: "editor@example.com", PasswordHash: hash, Roles: []string{"editor"}, Active: true},
		goGate.Subject{ID: "u2", Email: "guest@example.com", PasswordHash: hash, Active: true},
	)
	perms := permission.NewMemoryStore(
		[]permission.Role{{ID: "editor", Name: "Editor"}},
		[]permission.Permission{{RoleID: "editor", Section: "posts", Actions: []string{"read", "write"}, IsActive: true}},
	)

	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithSubjectProvider(subjects).
		WithPermissionStore(perms).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = client.Close()
		mr.Close()
	})

	return &Kit{Engine: engine, Redis: mr, Client: client, Subjects: subjects, Perms: perms}
}

// Login returns a fresh pair for email.
func (k *Kit) Login(t testing.TB, email string) *goGate.TokenPair {
	t.Helper()
	pair, err := k.Engine.Login(context.Background(), goGate.LoginRequest{Email: email, Password: Password})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return pair
}
