package sqlite

import (
	"context"
	"time"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

var _ repository.FollowRepository = (*FollowStore)(nil)

type FollowStore struct {
	q DBTX
}

// Follow is idempotent. The table's CHECK constraint rejects self-follows
// even if a caller forgets to.
func (s *FollowStore) Follow(ctx context.Context, followerID, followeeID string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO member_follows (follower_id, followee_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (follower_id, followee_id) DO NOTHING`,
		followerID, followeeID, time.Now().UTC(),
	)
	switch {
	case err == nil:
		return nil
	case checkViolation(err):
		return apperror.ValidationFailed("memberId", "cannot follow yourself")
	case foreignKeyViolation(err):
		return apperror.MemberNotFound(followeeID)
	}
	return storeErr("follow member", err)
}

func (s *FollowStore) Unfollow(ctx context.Context, followerID, followeeID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM member_follows WHERE follower_id = ? AND followee_id = ?`,
		followerID, followeeID,
	)
	return storeErr("unfollow member", err)
}

func (s *FollowStore) ListFollowees(ctx context.Context, followerID string) ([]*model.MemberSummary, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT m.id, m.username
		 FROM member_follows f
		 JOIN members m ON m.id = f.followee_id
		 WHERE f.follower_id = ?
		 ORDER BY m.username`,
		followerID,
	)
	if err != nil {
		return nil, storeErr("list followees", err)
	}
	defer rows.Close()

	followees := []*model.MemberSummary{}
	for rows.Next() {
		var m model.MemberSummary
		if err := rows.Scan(&m.ID, &m.Username); err != nil {
			return nil, storeErr("scan followee", err)
		}
		followees = append(followees, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate followees", err)
	}
	return followees, nil
}
