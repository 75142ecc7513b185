// Package repository declares the storage contracts the service layer
// depends on. Implementations live in sub-packages (see repository/sqlite).
//
// Every method returns apperror kinds for the expected failures
// (ErrMemberNotFound, ErrSessionNotFound, ...) and wraps anything else as
// ErrStoreUnavailable, so services never inspect driver errors.
package repository

import (
	"context"
	"time"

	"github.com/sakif/sandbox-server/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// MemberRepository is the credential store. Username and email are unique at
// the storage level; a violation surfaces as ErrUsernameAlreadyRegistered or
// ErrEmailAlreadyRegistered, never as a silent duplicate.
type MemberRepository interface {
	Create(ctx context.Context, member *model.Member) error
	GetByID(ctx context.Context, id string) (*model.Member, error)
	GetByEmail(ctx context.Context, email string) (*model.Member, error)
	GetByUsername(ctx context.Context, username string) (*model.Member, error)

	// EmailTaken and UsernameTaken report whether a member other than
	// excludeID already holds the value. Pass "" to check against everyone.
	EmailTaken(ctx context.Context, email, excludeID string) (bool, error)
	UsernameTaken(ctx context.Context, username, excludeID string) (bool, error)

	UpdateUsername(ctx context.Context, id, username string) error
	UpdateEmail(ctx context.Context, id, email string) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	// Delete hard-deletes the member. Sessions, owned projects and join rows
	// go with it through foreign-key cascades.
	Delete(ctx context.Context, id string) error
}

// SessionRepository is the session store. Tokens are unique.
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error

	// GetByToken returns the session with its Member filled in, or
	// ErrSessionNotFound.
	GetByToken(ctx context.Context, token string) (*model.Session, error)

	// Delete removes one session; ErrSessionNotFound when nothing matched.
	Delete(ctx context.Context, token string) error
	DeleteByMember(ctx context.Context, memberID string) (int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RoutingTokenRepository stores single-use email tokens.
type RoutingTokenRepository interface {
	Create(ctx context.Context, token *model.RoutingToken) error

	// Get returns the token or ErrInvalidToken.
	Get(ctx context.Context, token string) (*model.RoutingToken, error)

	// MarkUsed redeems the token exactly once. A second call, or a call for
	// an unknown token, returns ErrInvalidToken.
	MarkUsed(ctx context.Context, token string, at time.Time) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProjectFilter selects which projects List returns. Fields are combined
// with AND; zero values are ignored.
type ProjectFilter struct {
	PublicOnly       bool
	OwnerID          string
	EditorID         string
	FavoritedByID    string
	SandpackTemplate string
	// VisibleTo keeps only projects this member may read: public ones, their
	// own, and ones they edit. It is applied before paging.
	VisibleTo string
}

// ProjectRepository stores sandbox projects. Soft-deleted projects are
// invisible to every read.
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	List(ctx context.Context, filter ProjectFilter, opts ListOptions) ([]*model.Project, error)
	Update(ctx context.Context, project *model.Project) error
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// Favorites and editors have set semantics: adding an existing pair is
	// a no-op, enforced by the store's composite key.
	AddFavorite(ctx context.Context, projectID, memberID string) error
	RemoveFavorite(ctx context.Context, projectID, memberID string) error
	AddEditors(ctx context.Context, projectID string, memberIDs []string) error
}

// FollowRepository stores member -> member follows with set semantics.
type FollowRepository interface {
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
	ListFollowees(ctx context.Context, followerID string) ([]*model.MemberSummary, error)
}

// Stores groups the repositories that can take part in one transaction.
type Stores interface {
	Members() MemberRepository
	Sessions() SessionRepository
	RoutingTokens() RoutingTokenRepository
	Projects() ProjectRepository
	Follows() FollowRepository
}

// Transactor runs fn inside a single transaction. fn's stores are bound to
// the transaction; if fn returns an error every write is rolled back.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx Stores) error) error
}

// Store is everything the service layer needs from persistence.
type Store interface {
	Stores
	Transactor
}
