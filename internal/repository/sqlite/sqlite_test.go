package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

// newTestDB returns a fresh, fully migrated in-memory database that is
// closed when the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestMember(t *testing.T, db *DB, username string) *model.Member {
	t.Helper()
	m := &model.Member{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash-of-" + username,
	}
	if err := db.Members().Create(context.Background(), m); err != nil {
		t.Fatalf("failed to create test member: %v", err)
	}
	return m
}

func TestDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{":memory:", ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"data/sandbox.db", "data/sandbox.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_pragma=journal_mode(WAL)"},
		{"file:x.db?cache=shared", "file:x.db?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		if got := dsn(tt.path); got != tt.want {
			t.Errorf("dsn(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestNew_FileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sandbox.db")

	db, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	version, err := db.Version(ctx)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != 2 {
		t.Errorf("Version() = %d, want 2", version)
	}
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// =========================================================================
// TRANSACTIONS
// =========================================================================

func TestInTx_Commits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var id string
	err := db.InTx(ctx, func(tx repository.Stores) error {
		m := &model.Member{Username: "alice", Email: "alice@example.com", PasswordHash: "h"}
		if err := tx.Members().Create(ctx, m); err != nil {
			return err
		}
		id = m.ID
		return nil
	})
	if err != nil {
		t.Fatalf("InTx() error = %v", err)
	}

	if _, err := db.Members().GetByID(ctx, id); err != nil {
		t.Errorf("member not committed: %v", err)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	member := createTestMember(t, db, "alice")
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx repository.Stores) error {
		if _, err := tx.Sessions().DeleteByMember(ctx, member.ID); err != nil {
			return err
		}
		if err := tx.Members().Delete(ctx, member.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want %v", err, boom)
	}

	if _, err := db.Members().GetByID(ctx, member.ID); err != nil {
		t.Errorf("member should survive rollback, got %v", err)
	}
}

func TestInTx_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	member := createTestMember(t, db, "alice")

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to be re-raised")
			}
		}()
		_ = db.InTx(ctx, func(tx repository.Stores) error {
			if err := tx.Members().Delete(ctx, member.ID); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	}()

	if _, err := db.Members().GetByID(ctx, member.ID); err != nil {
		t.Errorf("member should survive rollback, got %v", err)
	}
}

func TestInTx_CanceledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.InTx(ctx, func(tx repository.Stores) error { return nil })
	if err == nil {
		t.Fatal("InTx() with canceled context should fail")
	}
	if got := apperror.Code(err); got != "STORE_UNAVAILABLE" {
		t.Errorf("Code() = %q, want STORE_UNAVAILABLE", got)
	}
}

// =========================================================================
// CASCADES
// =========================================================================

func TestDeleteMember_Cascades(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestMember(t, db, "alice")
	bob := createTestMember(t, db, "bob")

	if err := db.Sessions().Create(ctx, &model.Session{Token: "tok-alice", MemberID: alice.ID}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	owned := &model.Project{Name: "mine", OwnerID: alice.ID, SandpackTemplate: "react"}
	if err := db.Projects().Create(ctx, owned); err != nil {
		t.Fatalf("create project: %v", err)
	}
	shared := &model.Project{Name: "bobs", OwnerID: bob.ID, SandpackTemplate: "vue"}
	if err := db.Projects().Create(ctx, shared); err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := db.Projects().AddEditors(ctx, shared.ID, []string{alice.ID}); err != nil {
		t.Fatalf("add editor: %v", err)
	}
	if err := db.Follows().Follow(ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("follow: %v", err)
	}

	if err := db.Members().Delete(ctx, alice.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := db.Sessions().GetByToken(ctx, "tok-alice"); !errors.Is(err, apperror.ErrSessionNotFound) {
		t.Errorf("session should be gone, got %v", err)
	}
	if _, err := db.Projects().GetByID(ctx, owned.ID); !errors.Is(err, apperror.ErrProjectNotFound) {
		t.Errorf("owned project should be gone, got %v", err)
	}
	p, err := db.Projects().GetByID(ctx, shared.ID)
	if err != nil {
		t.Fatalf("shared project should survive: %v", err)
	}
	if len(p.Editors) != 0 {
		t.Errorf("editors = %v, want none", p.Editors)
	}
	followees, err := db.Follows().ListFollowees(ctx, bob.ID)
	if err != nil {
		t.Fatalf("ListFollowees() error = %v", err)
	}
	if len(followees) != 0 {
		t.Errorf("followees = %v, want none", followees)
	}
}
