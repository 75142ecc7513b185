package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/sandbox-server/internal/auth"
	"github.com/sakif/sandbox-server/internal/metrics"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
	"github.com/sakif/sandbox-server/internal/repository/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingNotifier remembers every reset token it was asked to deliver.
type recordingNotifier struct {
	mu     sync.Mutex
	tokens map[string]string // email -> last token
	calls  int
}

func (n *recordingNotifier) PasswordReset(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tokens == nil {
		n.tokens = map[string]string{}
	}
	n.tokens[email] = token
	n.calls++
	return nil
}

// clock is a settable time source.
type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Now().UTC()} }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	db       *sqlite.DB
	auth     *AuthService
	projects *ProjectService
	follows  *FollowService
	notifier *recordingNotifier
	clock    *clock
}

var testAuthConfig = AuthConfig{SessionTTL: 24 * time.Hour, ResetTokenTTL: time.Hour}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return newTestEnvWithStore(t, db, db)
}

// newTestEnvWithStore lets a test wrap the real store to inject faults.
func newTestEnvWithStore(t *testing.T, db *sqlite.DB, store repository.Store) *testEnv {
	t.Helper()
	passwords, err := auth.NewPasswordService(bcrypt.MinCost)
	require.NoError(t, err)

	env := &testEnv{db: db, notifier: &recordingNotifier{}, clock: newClock()}
	env.auth = NewAuthService(store, passwords, env.notifier, metrics.New(prometheus.NewRegistry()), testAuthConfig, discardLogger())
	env.auth.now = env.clock.Now
	env.projects = NewProjectService(store, discardLogger())
	env.projects.now = env.clock.Now
	env.follows = NewFollowService(store.Follows(), discardLogger())
	return env
}

func (e *testEnv) signUp(t *testing.T, username, password string) *model.Member {
	t.Helper()
	m, err := e.auth.SignUp(context.Background(), username, username+"@example.com", password, password)
	require.NoError(t, err)
	return m
}

func (e *testEnv) signIn(t *testing.T, email, password string) *SignInResult {
	t.Helper()
	res, err := e.auth.SignIn(context.Background(), email, password)
	require.NoError(t, err)
	return res
}

// faultyStore wraps a real store and makes selected calls inside
// transactions fail, to prove the transaction rolls back.
type faultyStore struct {
	repository.Store
	memberDeleteErr error
	sessionGetErr   error
}

func (f *faultyStore) InTx(ctx context.Context, fn func(tx repository.Stores) error) error {
	return f.Store.InTx(ctx, func(tx repository.Stores) error {
		return fn(&faultyStores{Stores: tx, parent: f})
	})
}

func (f *faultyStore) Sessions() repository.SessionRepository {
	return &faultySessions{SessionRepository: f.Store.Sessions(), parent: f}
}

type faultyStores struct {
	repository.Stores
	parent *faultyStore
}

func (f *faultyStores) Members() repository.MemberRepository {
	return &faultyMembers{MemberRepository: f.Stores.Members(), parent: f.parent}
}

type faultyMembers struct {
	repository.MemberRepository
	parent *faultyStore
}

func (f *faultyMembers) Delete(ctx context.Context, id string) error {
	if f.parent.memberDeleteErr != nil {
		return f.parent.memberDeleteErr
	}
	return f.MemberRepository.Delete(ctx, id)
}

type faultySessions struct {
	repository.SessionRepository
	parent *faultyStore
}

func (f *faultySessions) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	if f.parent.sessionGetErr != nil {
		return nil, f.parent.sessionGetErr
	}
	return f.SessionRepository.GetByToken(ctx, token)
}
