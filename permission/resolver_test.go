package permission

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func seededResolver(t *testing.T, registry *Registry) (*Resolver, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(
		[]Role{
			{ID: "super_admin", Name: "Super Admin"},
			{ID: "admin", Name: "Admin", VisibleToRoles: []string{"super_admin"}},
			{ID: "tutor", Name: "Tutor", VisibleToRoles: []string{"admin"}},
			{ID: "accountant", Name: "Accountant", VisibleToRoles: []string{"admin"}},
		},
		[]Permission{
			{RoleID: "tutor", Section: "batches", Actions: []string{"read", "update"}, IsActive: true},
			{RoleID: "tutor", Section: "students", Actions: []string{"read"}, IsActive: true},
			{RoleID: "tutor", Section: "payouts", Actions: []string{"read"}, IsActive: false},
			{RoleID: "accountant", Section: "payouts", Actions: []string{"read", "export"}, IsActive: true},
			{RoleID: "accountant", Section: "batches", Actions: []string{"read"}, IsActive: true},
		},
	)
	r := NewResolver(store, registry, "super_admin")
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return r, store
}

func TestEffectivePermissionsSingleRole(t *testing.T) {
	r, _ := seededResolver(t, nil)

	got := r.EffectivePermissions([]string{"tutor"})
	want := Matrix{
		"batches":  {"read", "update"},
		"students": {"read"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("effective permissions mismatch (-want +got):\n%s", diff)
	}
	if r.HasPermission([]string{"tutor"}, "payouts", "read") {
		t.Fatal("inactive row must not grant access")
	}
}

func TestEffectivePermissionsUnionAcrossRoles(t *testing.T) {
	r, _ := seededResolver(t, nil)

	got := r.EffectivePermissions([]string{"tutor", "accountant", "ghost"})
	want := Matrix{
		"batches":  {"read", "update"},
		"students": {"read"},
		"payouts":  {"export", "read"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("union mismatch (-want +got):\n%s", diff)
	}
	if !r.HasPermission([]string{"tutor", "accountant"}, "payouts", "export") {
		t.Fatal("expected union to grant payouts:export")
	}
}

func TestSuperRoleBypassesMatrix(t *testing.T) {
	r, _ := seededResolver(t, nil)

	if !r.HasPermission([]string{"super_admin"}, "anything", "delete") {
		t.Fatal("super role must always pass")
	}
	got := r.EffectivePermissions([]string{"super_admin"})
	if !reflect.DeepEqual(got, Matrix{Wildcard: {Wildcard}}) {
		t.Fatalf("expected wildcard matrix, got %v", got)
	}
	if err := r.UpdateRolePermissions(context.Background(), "super_admin", nil); !errors.Is(err, ErrInvalidUpdate) {
		t.Fatalf("super role matrix must not be editable, got %v", err)
	}
}

func TestDeactivatingRowRemovesAction(t *testing.T) {
	r, store := seededResolver(t, nil)
	ctx := context.Background()

	err := r.UpdateRolePermissions(ctx, "tutor", []Update{
		{Section: "batches", Actions: []string{"read", "update"}, IsActive: false},
		{Section: "students", Actions: []string{"read"}, IsActive: true},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if r.HasPermission([]string{"tutor"}, "batches", "read") {
		t.Fatal("deactivated row still grants access")
	}
	if !r.HasPermission([]string{"tutor"}, "students", "read") {
		t.Fatal("unchanged row lost")
	}

	persisted, _ := store.LoadPermissions(ctx)
	var tutorRows int
	for _, p := range persisted {
		if p.RoleID == "tutor" {
			tutorRows++
		}
	}
	if tutorRows != 2 {
		t.Fatalf("expected full replacement to leave 2 tutor rows, got %d", tutorRows)
	}
}

func TestUpdateValidation(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("batches", "read", "update"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("students", "read"); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.Freeze()
	if err := reg.Register("late", "read"); err == nil {
		t.Fatal("frozen registry accepted a section")
	}

	r, _ := seededResolver(t, reg)
	ctx := context.Background()

	cases := []struct {
		name    string
		role    string
		updates []Update
		want    error
	}{
		{"unknown role", "ghost", []Update{{Section: "batches", Actions: []string{"read"}}}, ErrRoleNotFound},
		{"unknown section", "tutor", []Update{{Section: "payroll", Actions: []string{"read"}}}, ErrInvalidUpdate},
		{"unknown action", "tutor", []Update{{Section: "batches", Actions: []string{"delete"}}}, ErrInvalidUpdate},
		{"duplicate section", "tutor", []Update{{Section: "batches"}, {Section: "batches"}}, ErrInvalidUpdate},
		{"empty section", "tutor", []Update{{Section: " "}}, ErrInvalidUpdate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := r.Version()
			if err := r.UpdateRolePermissions(ctx, tc.role, tc.updates); !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
			if r.Version() != before {
				t.Fatal("failed update must not publish a snapshot")
			}
		})
	}
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) ReplaceRolePermissions(context.Context, string, []Permission) error {
	return errors.New("db down")
}

func TestUpdateKeepsOldMatrixWhenStoreFails(t *testing.T) {
	_, mem := seededResolver(t, nil)
	r := NewResolver(failingStore{mem}, nil, "super_admin")
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	err := r.UpdateRolePermissions(context.Background(), "tutor", []Update{{Section: "batches", Actions: []string{"read"}, IsActive: false}})
	if err == nil {
		t.Fatal("expected store failure")
	}
	if !r.HasPermission([]string{"tutor"}, "batches", "update") {
		t.Fatal("in-memory matrix changed despite persistence failure")
	}
}

// Two alternating full sets for one role. Every reader observation must match
// exactly one of them.
func TestBulkUpdateIsAtomicForReaders(t *testing.T) {
	r, _ := seededResolver(t, nil)
	ctx := context.Background()

	setA := []Update{
		{Section: "batches", Actions: []string{"read"}, IsActive: true},
		{Section: "payouts", Actions: []string{"read"}, IsActive: false},
	}
	setB := []Update{
		{Section: "batches", Actions: []string{"read", "update"}, IsActive: false},
		{Section: "payouts", Actions: []string{"read", "update"}, IsActive: true},
	}
	wantA := Matrix{"batches": {"read"}}
	wantB := Matrix{"payouts": {"read", "update"}}

	if err := r.UpdateRolePermissions(ctx, "tutor", setA); err != nil {
		t.Fatalf("seed update: %v", err)
	}

	var (
		stop     atomic.Bool
		wg       sync.WaitGroup
		failures atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				got := r.EffectivePermissions([]string{"tutor"})
				if !reflect.DeepEqual(got, wantA) && !reflect.DeepEqual(got, wantB) {
					failures.Add(1)
				}
				rows := r.RolePermissions("tutor")
				if len(rows) != 2 || rows[0].IsActive == rows[1].IsActive || len(rows[0].Actions) != len(rows[1].Actions) {
					failures.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		next := setA
		if i%2 == 0 {
			next = setB
		}
		if err := r.UpdateRolePermissions(ctx, "tutor", next); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	stop.Store(true)
	wg.Wait()

	if n := failures.Load(); n != 0 {
		t.Fatalf("readers observed %d partial matrices", n)
	}
}

func TestVisibleRoles(t *testing.T) {
	r, _ := seededResolver(t, nil)

	names := func(roles []Role) []string {
		out := make([]string, len(roles))
		for i, role := range roles {
			out[i] = role.ID
		}
		return out
	}

	if diff := cmp.Diff([]string{"accountant", "tutor"}, names(r.VisibleRoles([]string{"admin"}))); diff != "" {
		t.Fatalf("admin visibility mismatch (-want +got):\n%s", diff)
	}
	if got := r.VisibleRoles([]string{"super_admin"}); len(got) != 4 {
		t.Fatalf("super role should see all roles, got %d", len(got))
	}
	if got := r.VisibleRoles([]string{"tutor"}); len(got) != 0 {
		t.Fatalf("tutor should see no roles, got %v", names(got))
	}
}

// gatedStore pauses LoadPermissions after it has read the rows until release
// is closed.
type gatedStore struct {
	*MemoryStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *gatedStore) LoadPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.MemoryStore.LoadPermissions(ctx)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return rows, err
}

func TestLoadDoesNotRepublishStaleRowsOverUpdate(t *testing.T) {
	mem := NewMemoryStore(
		[]Role{{ID: "viewer", Name: "Viewer"}},
		[]Permission{{RoleID: "viewer", Section: "users", Actions: []string{"read"}, IsActive: true}},
	)
	store := &gatedStore{MemoryStore: mem, read: make(chan struct{}), release: make(chan struct{})}
	r := NewResolver(store, nil, "super_admin")
	ctx := context.Background()
	if err := r.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	store.armed.Store(true)
	loadErr := make(chan error, 1)
	go func() { loadErr <- r.Load(ctx) }()
	<-store.read

	updateErr := make(chan error, 1)
	go func() {
		updateErr <- r.UpdateRolePermissions(ctx, "viewer", []Update{{Section: "users", Actions: []string{"read"}, IsActive: false}})
	}()
	// Give the update a chance to race ahead of the paused Load.
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	if err := <-loadErr; err != nil {
		t.Fatalf("concurrent load: %v", err)
	}
	if err := <-updateErr; err != nil {
		t.Fatalf("update: %v", err)
	}
	if r.HasPermission([]string{"viewer"}, "users", "read") {
		t.Fatal("deactivated row granted again after concurrent load")
	}
	rows, _ := mem.LoadPermissions(ctx)
	if len(rows) != 1 || rows[0].IsActive {
		t.Fatalf("store rows = %+v, want one inactive row", rows)
	}
}
