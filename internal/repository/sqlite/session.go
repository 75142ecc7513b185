package sqlite

import (
	"context"
	"time"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

var _ repository.SessionRepository = (*SessionStore)(nil)

type SessionStore struct {
	q DBTX
}

// Create inserts a session. The caller supplies the token; a duplicate token
// is reported as a conflict rather than overwriting the existing row.
func (s *SessionStore) Create(ctx context.Context, sess *model.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO sessions (token, member_id, created_at) VALUES (?, ?, ?)`,
		sess.Token, sess.MemberID, sess.CreatedAt,
	)
	switch {
	case err == nil:
		return nil
	case uniqueViolation(err, "sessions.token"):
		return apperror.Conflict("session token collision")
	case foreignKeyViolation(err):
		return apperror.MemberNotFound(sess.MemberID)
	}
	return storeErr("insert session", err)
}

// GetByToken joins the owning member in the same query, so a session whose
// member is gone can never be returned.
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	var (
		sess model.Session
		m    model.Member
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT s.token, s.member_id, s.created_at,
		        m.id, m.username, m.email, m.password_hash, m.created_at, m.updated_at
		 FROM sessions s
		 JOIN members m ON m.id = s.member_id
		 WHERE s.token = ?`,
		token,
	).Scan(
		&sess.Token, &sess.MemberID, &sess.CreatedAt,
		&m.ID, &m.Username, &m.Email, &m.PasswordHash, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.SessionNotFound()
		}
		return nil, storeErr("get session", err)
	}
	sess.Member = &m
	return &sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return storeErr("delete session", err)
	}
	return requireRow(res, apperror.SessionNotFound())
}

func (s *SessionStore) DeleteByMember(ctx context.Context, memberID string) (int64, error) {
	return s.deleteWhere(ctx, "delete member sessions", `member_id = ?`, memberID)
}

func (s *SessionStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(ctx, "purge sessions", `created_at < ?`, cutoff.UTC())
}

func (s *SessionStore) deleteWhere(ctx context.Context, op, where string, arg any) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE `+where, arg)
	if err != nil {
		return 0, storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(op, err)
	}
	return n, nil
}
