package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

var _ repository.RoutingTokenRepository = (*RoutingTokenStore)(nil)

type RoutingTokenStore struct {
	q DBTX
}

func (s *RoutingTokenStore) Create(ctx context.Context, t *model.RoutingToken) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.CreatedAt = t.CreatedAt.UTC()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO routing_tokens (token, email, purpose, created_at) VALUES (?, ?, ?, ?)`,
		t.Token, t.Email, t.Purpose, t.CreatedAt,
	)
	if uniqueViolation(err, "routing_tokens.token") {
		return apperror.Conflict("routing token collision")
	}
	return storeErr("insert routing token", err)
}

func (s *RoutingTokenStore) Get(ctx context.Context, token string) (*model.RoutingToken, error) {
	var (
		t      model.RoutingToken
		usedAt sql.NullTime
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT token, email, purpose, created_at, used_at FROM routing_tokens WHERE token = ?`,
		token,
	).Scan(&t.Token, &t.Email, &t.Purpose, &t.CreatedAt, &usedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.InvalidToken()
		}
		return nil, storeErr("get routing token", err)
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Time
	}
	return &t, nil
}

// MarkUsed only matches an unused row, so two concurrent redemptions of the
// same token cannot both succeed.
func (s *RoutingTokenStore) MarkUsed(ctx context.Context, token string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE routing_tokens SET used_at = ? WHERE token = ? AND used_at IS NULL`,
		at.UTC(), token,
	)
	if err != nil {
		return storeErr("redeem routing token", err)
	}
	return requireRow(res, apperror.InvalidToken())
}

func (s *RoutingTokenStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM routing_tokens WHERE created_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return 0, storeErr("purge routing tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("purge routing tokens", err)
	}
	return n, nil
}
