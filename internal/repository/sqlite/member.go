package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

var _ repository.MemberRepository = (*MemberStore)(nil)

// MemberStore is the credential store. The unique indexes on username and
// email are the real uniqueness guarantee; callers may pre-check, but a race
// between two sign-ups still ends here as a typed error.
type MemberStore struct {
	q DBTX
}

const memberColumns = `id, username, email, password_hash, created_at, updated_at`

// Create assigns the ID and timestamps and inserts the member.
func (s *MemberStore) Create(ctx context.Context, m *model.Member) error {
	now := time.Now().UTC()
	m.ID = xid.New().String()
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Username, m.Email, m.PasswordHash, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		m.ID = ""
		return memberWriteErr("insert member", err)
	}
	return nil
}

func (s *MemberStore) GetByID(ctx context.Context, id string) (*model.Member, error) {
	m, err := s.getOne(ctx, `WHERE id = ?`, id)
	if isNoRows(err) {
		return nil, apperror.MemberNotFound(id)
	}
	return m, err
}

func (s *MemberStore) GetByEmail(ctx context.Context, email string) (*model.Member, error) {
	m, err := s.getOne(ctx, `WHERE email = ?`, email)
	if isNoRows(err) {
		return nil, apperror.New(apperror.ErrMemberNotFound, "member not found")
	}
	return m, err
}

func (s *MemberStore) GetByUsername(ctx context.Context, username string) (*model.Member, error) {
	m, err := s.getOne(ctx, `WHERE username = ?`, username)
	if isNoRows(err) {
		return nil, apperror.New(apperror.ErrMemberNotFound, "member not found")
	}
	return m, err
}

// getOne returns sql.ErrNoRows untouched so each caller can pick its own
// not-found message.
func (s *MemberStore) getOne(ctx context.Context, where string, arg any) (*model.Member, error) {
	var m model.Member
	err := s.q.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members `+where, arg,
	).Scan(&m.ID, &m.Username, &m.Email, &m.PasswordHash, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, err
		}
		return nil, storeErr("get member", err)
	}
	return &m, nil
}

func (s *MemberStore) EmailTaken(ctx context.Context, email, excludeID string) (bool, error) {
	return s.taken(ctx, "email", email, excludeID)
}

func (s *MemberStore) UsernameTaken(ctx context.Context, username, excludeID string) (bool, error) {
	return s.taken(ctx, "username", username, excludeID)
}

// column is always one of our own literals, never user input.
func (s *MemberStore) taken(ctx context.Context, column, value, excludeID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE `+column+` = ? AND id <> ?)`,
		value, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, storeErr("check "+column, err)
	}
	return exists, nil
}

func (s *MemberStore) UpdateUsername(ctx context.Context, id, username string) error {
	return s.update(ctx, id, "username", username)
}

func (s *MemberStore) UpdateEmail(ctx context.Context, id, email string) error {
	return s.update(ctx, id, "email", email)
}

func (s *MemberStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.update(ctx, id, "password_hash", hash)
}

func (s *MemberStore) update(ctx context.Context, id, column string, value any) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE members SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return memberWriteErr("update member "+column, err)
	}
	return requireRow(res, apperror.MemberNotFound(id))
}

// Delete removes the member row. ON DELETE CASCADE takes the member's
// sessions, projects, favorites, editor rows and follows with it.
func (s *MemberStore) Delete(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete member", err)
	}
	return requireRow(res, apperror.MemberNotFound(id))
}

func memberWriteErr(op string, err error) error {
	switch {
	case uniqueViolation(err, "members.email"):
		return apperror.EmailAlreadyRegistered()
	case uniqueViolation(err, "members.username"):
		return apperror.UsernameAlreadyRegistered()
	}
	return storeErr(op, err)
}

// requireRow returns notFound when res affected no rows.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("rows affected", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
