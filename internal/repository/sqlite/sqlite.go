// Package sqlite implements the repository interfaces on top of SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the server builds
// without a C toolchain. The schema lives in migrations/*.sql, embedded into
// the binary and applied with goose.
//
// Connection settings are passed through the DSN rather than one-off PRAGMA
// statements: database/sql opens connections lazily, and a PRAGMA executed on
// one pooled connection does not apply to the others. foreign_keys in
// particular has to be on for every connection or the cascades silently stop
// working.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/sakif/sandbox-server/internal/repository"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is the subset of database/sql the stores use. Both *sql.DB and
// *sql.Tx satisfy it, which is what lets the same store code run inside and
// outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB owns the connection pool and hands out stores bound to it.
type DB struct {
	conn *sql.DB

	members       *MemberStore
	sessions      *SessionStore
	routingTokens *RoutingTokenStore
	projects      *ProjectStore
	follows       *FollowStore
}

var _ repository.Store = (*DB)(nil)

// New opens the database at path and brings the schema up to date.
//
//   - "data/sandbox.db" opens (or creates) a file database
//   - ":memory:" gives a private in-memory database, used by tests
func New(ctx context.Context, path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open opens the database without touching the schema.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate, empty database.
	if isMemory(path) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	return newDB(conn), nil
}

func newDB(conn *sql.DB) *DB {
	return &DB{
		conn:          conn,
		members:       &MemberStore{q: conn},
		sessions:      &SessionStore{q: conn},
		routingTokens: &RoutingTokenStore{q: conn},
		projects:      &ProjectStore{q: conn},
		follows:       &FollowStore{q: conn},
	}
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// dsn appends the per-connection pragmas. _txlock=immediate makes every
// transaction take the write lock up front, so two concurrent writers get
// SQLITE_BUSY at BEGIN (which we retry) instead of a deadlock halfway through.
func dsn(path string) string {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
	}
	if !isMemory(path) {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by the health check.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Migrate applies every pending migration.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("sqlite: setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.conn, "migrations"); err != nil {
		return fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version.
func (db *DB) Version(ctx context.Context) (int64, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("sqlite: setting migration dialect: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, db.conn)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading schema version: %w", err)
	}
	return v, nil
}

func (db *DB) Members() repository.MemberRepository             { return db.members }
func (db *DB) Sessions() repository.SessionRepository           { return db.sessions }
func (db *DB) RoutingTokens() repository.RoutingTokenRepository { return db.routingTokens }
func (db *DB) Projects() repository.ProjectRepository           { return db.projects }
func (db *DB) Follows() repository.FollowRepository             { return db.follows }

// txStores binds every store to one *sql.Tx.
type txStores struct {
	members       *MemberStore
	sessions      *SessionStore
	routingTokens *RoutingTokenStore
	projects      *ProjectStore
	follows       *FollowStore
}

func (s *txStores) Members() repository.MemberRepository             { return s.members }
func (s *txStores) Sessions() repository.SessionRepository           { return s.sessions }
func (s *txStores) RoutingTokens() repository.RoutingTokenRepository { return s.routingTokens }
func (s *txStores) Projects() repository.ProjectRepository           { return s.projects }
func (s *txStores) Follows() repository.FollowRepository             { return s.follows }

// InTx runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise. A transaction that fails because the database is busy is
// retried a few times with backoff; fn must therefore be safe to run again.
//
// With an in-memory database there is exactly one connection, so fn must only
// use the stores it is given. Calling db.Members() inside fn would wait for a
// connection that the transaction is holding.
func (db *DB) InTx(ctx context.Context, fn func(tx repository.Stores) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(25*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := db.withTx(ctx, fn)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (db *DB) withTx(ctx context.Context, fn func(tx repository.Stores) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = storeErr("commit transaction", cerr)
		}
	}()

	return fn(&txStores{
		members:       &MemberStore{q: tx},
		sessions:      &SessionStore{q: tx},
		routingTokens: &RoutingTokenStore{q: tx},
		projects:      &ProjectStore{q: tx},
		follows:       &FollowStore{q: tx},
	})
}
