package test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/permission"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// exampleSubjects is the smallest SubjectProvider: one fixed subject.
type exampleSubjects struct {
	subject goGate.Subject
}

func (p exampleSubjects) GetSubject(_ context.Context, id string) (goGate.Subject, error) {
	if id != p.subject.ID {
		return goGate.Subject{}, goGate.ErrSubjectNotFound
	}
	return p.subject, nil
}

func (p exampleSubjects) GetSubjectByEmail(_ context.Context, email string) (goGate.Subject, error) {
	if email != p.subject.Email {
		return goGate.Subject{}, goGate.ErrSubjectNotFound
	}
	return p.subject, nil
}

func exampleEngine() (*goGate.Engine, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	cfg := goGate.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	hasher, _ := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	hash, _ := hasher.Hash("s3cret-passphrase")

	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithSubjectProvider(exampleSubjects{goGate.Subject{
			ID: "u-42", Email: "ada@example.com", PasswordHash: hash, Roles: []string{"author"}, Active: true,
		}}).
		WithPermissionStore(permission.NewMemoryStore(
			[]permission.Role{{ID: "author", Name: "Author"}},
			[]permission.Permission{{RoleID: "author", Section: "articles", Actions: []string{"read", "write"}, IsActive: true}},
		)).
		Build()
	if err != nil {
		panic(err)
	}
	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

// ExampleEngine_Login logs in, authenticates the access token and checks a
// permission.
func ExampleEngine_Login() {
	engine, cleanup := exampleEngine()
	defer cleanup()
	ctx := context.Background()

	pair, err := engine.Login(ctx, goGate.LoginRequest{
		Email:    "ada@example.com",
		Password: "s3cret-passphrase",
		Device:   goGate.DeviceInfo{DeviceID: "ada-phone", DeviceType: "ios"},
	})
	if err != nil {
		fmt.Println("login:", err)
		return
	}
	id, err := engine.Authenticate(ctx, pair.AccessToken)
	if err != nil {
		fmt.Println("authenticate:", err)
		return
	}
	fmt.Println(id.SubjectID, pair.DeviceID)
	fmt.Println(engine.Authorize(ctx, id, "articles", "write") == nil)
	fmt.Println(errors.Is(engine.Authorize(ctx, id, "articles", "delete"), goGate.ErrInsufficientPermission))
	// Output:
	// u-42 ada-phone
	// true
	// true
}

// ExampleEngine_Refresh shows rotation and replay detection.
func ExampleEngine_Refresh() {
	engine, cleanup := exampleEngine()
	defer cleanup()
	ctx := context.Background()

	pair, err := engine.IssueTokens(ctx, "u-42", goGate.DeviceInfo{})
	if err != nil {
		fmt.Println("issue:", err)
		return
	}
	next, err := engine.Refresh(ctx, goGate.RefreshRequest{RefreshToken: pair.RefreshToken})
	if err != nil {
		fmt.Println("refresh:", err)
		return
	}
	fmt.Println(next.DeviceID == pair.DeviceID)

	_, err = engine.Refresh(ctx, goGate.RefreshRequest{RefreshToken: pair.RefreshToken})
	fmt.Println(err)
	fmt.Println(errors.Is(err, goGate.ErrReplayedRefreshToken))
	// Output:
	// true
	// unauthorized
	// true
}

// ExampleEngine_MetricsSnapshot reads the in-process counters.
func ExampleEngine_MetricsSnapshot() {
	var engine *goGate.Engine
	snapshot := engine.MetricsSnapshot()
	_ = snapshot
}
