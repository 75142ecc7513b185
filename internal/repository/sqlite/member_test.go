package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
)

func TestMemberCreate(t *testing.T) {
	db := newTestDB(t)

	m := &model.Member{Username: "alice", Email: "alice@example.com", PasswordHash: "h"}
	if err := db.Members().Create(context.Background(), m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if m.ID == "" {
		t.Error("Create() did not set ID")
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("Create() did not set timestamps")
	}
}

func TestMemberCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestMember(t, db, "alice")

	dup := &model.Member{Username: "other", Email: "alice@example.com", PasswordHash: "h"}
	err := db.Members().Create(context.Background(), dup)
	if !errors.Is(err, apperror.ErrEmailAlreadyRegistered) {
		t.Fatalf("Create() error = %v, want ErrEmailAlreadyRegistered", err)
	}
	if dup.ID != "" {
		t.Errorf("failed Create() left ID = %q", dup.ID)
	}
}

func TestMemberCreate_DuplicateUsername(t *testing.T) {
	db := newTestDB(t)
	createTestMember(t, db, "alice")

	dup := &model.Member{Username: "alice", Email: "different@example.com", PasswordHash: "h"}
	err := db.Members().Create(context.Background(), dup)
	if !errors.Is(err, apperror.ErrUsernameAlreadyRegistered) {
		t.Fatalf("Create() error = %v, want ErrUsernameAlreadyRegistered", err)
	}
}

func TestMemberGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	created := createTestMember(t, db, "alice")

	byID, err := db.Members().GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	byEmail, err := db.Members().GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	byUsername, err := db.Members().GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}

	for _, got := range []*model.Member{byID, byEmail, byUsername} {
		if got.ID != created.ID || got.Username != "alice" || got.PasswordHash != "hash-of-alice" {
			t.Errorf("got %+v, want member %s", got, created.ID)
		}
	}
}

func TestMemberGet_NotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Members().GetByID(ctx, "missing"); !errors.Is(err, apperror.ErrMemberNotFound) {
		t.Errorf("GetByID() error = %v, want ErrMemberNotFound", err)
	}
	if _, err := db.Members().GetByEmail(ctx, "nobody@example.com"); !errors.Is(err, apperror.ErrMemberNotFound) {
		t.Errorf("GetByEmail() error = %v, want ErrMemberNotFound", err)
	}
	if _, err := db.Members().GetByUsername(ctx, "nobody"); !errors.Is(err, apperror.ErrMemberNotFound) {
		t.Errorf("GetByUsername() error = %v, want ErrMemberNotFound", err)
	}
}

func TestMemberTaken_ExcludesSelf(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestMember(t, db, "alice")
	bob := createTestMember(t, db, "bob")

	tests := []struct {
		name      string
		check     func() (bool, error)
		wantTaken bool
	}{
		{"email held by someone else", func() (bool, error) { return db.Members().EmailTaken(ctx, "alice@example.com", bob.ID) }, true},
		{"email held by self", func() (bool, error) { return db.Members().EmailTaken(ctx, "alice@example.com", alice.ID) }, false},
		{"email free", func() (bool, error) { return db.Members().EmailTaken(ctx, "carol@example.com", "") }, false},
		{"username held by someone else", func() (bool, error) { return db.Members().UsernameTaken(ctx, "bob", alice.ID) }, true},
		{"username held by self", func() (bool, error) { return db.Members().UsernameTaken(ctx, "bob", bob.ID) }, false},
		{"username checked against everyone", func() (bool, error) { return db.Members().UsernameTaken(ctx, "bob", "") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.check()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.wantTaken {
				t.Errorf("taken = %v, want %v", got, tt.wantTaken)
			}
		})
	}
}

func TestMemberUpdates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestMember(t, db, "alice")

	if err := db.Members().UpdateUsername(ctx, alice.ID, "alicia"); err != nil {
		t.Fatalf("UpdateUsername() error = %v", err)
	}
	if err := db.Members().UpdateEmail(ctx, alice.ID, "alicia@example.com"); err != nil {
		t.Fatalf("UpdateEmail() error = %v", err)
	}
	if err := db.Members().UpdatePasswordHash(ctx, alice.ID, "new-hash"); err != nil {
		t.Fatalf("UpdatePasswordHash() error = %v", err)
	}

	got, err := db.Members().GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Username != "alicia" || got.Email != "alicia@example.com" || got.PasswordHash != "new-hash" {
		t.Errorf("got %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) && !got.UpdatedAt.Equal(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestMemberUpdate_SameValueIsNoop(t *testing.T) {
	db := newTestDB(t)
	alice := createTestMember(t, db, "alice")

	if err := db.Members().UpdateUsername(context.Background(), alice.ID, "alice"); err != nil {
		t.Errorf("UpdateUsername() to current value error = %v", err)
	}
}

func TestMemberUpdate_Conflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestMember(t, db, "alice")
	createTestMember(t, db, "bob")

	if err := db.Members().UpdateUsername(ctx, alice.ID, "bob"); !errors.Is(err, apperror.ErrUsernameAlreadyRegistered) {
		t.Errorf("UpdateUsername() error = %v, want ErrUsernameAlreadyRegistered", err)
	}
	if err := db.Members().UpdateEmail(ctx, alice.ID, "bob@example.com"); !errors.Is(err, apperror.ErrEmailAlreadyRegistered) {
		t.Errorf("UpdateEmail() error = %v, want ErrEmailAlreadyRegistered", err)
	}
}

func TestMemberUpdate_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.Members().UpdateUsername(context.Background(), "missing", "ghost")
	if !errors.Is(err, apperror.ErrMemberNotFound) {
		t.Errorf("UpdateUsername() error = %v, want ErrMemberNotFound", err)
	}
}

func TestMemberDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	alice := createTestMember(t, db, "alice")

	if err := db.Members().Delete(ctx, alice.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := db.Members().GetByID(ctx, alice.ID); !errors.Is(err, apperror.ErrMemberNotFound) {
		t.Errorf("GetByID() after delete error = %v", err)
	}
	if err := db.Members().Delete(ctx, alice.ID); !errors.Is(err, apperror.ErrMemberNotFound) {
		t.Errorf("second Delete() error = %v, want ErrMemberNotFound", err)
	}

	// The username and email are free again.
	createTestMember(t, db, "alice")
}
