package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

// FollowService manages member -> member follows.
type FollowService struct {
	follows repository.FollowRepository
	logger  *slog.Logger
}

func NewFollowService(follows repository.FollowRepository, logger *slog.Logger) *FollowService {
	return &FollowService{follows: follows, logger: logger}
}

func (s *FollowService) Follow(ctx context.Context, member *model.Member, followeeID string) error {
	followeeID, err := s.target(member, followeeID)
	if err != nil {
		return err
	}
	if err := s.follows.Follow(ctx, member.ID, followeeID); err != nil {
		return fmt.Errorf("following member: %w", err)
	}
	s.logger.Info("member followed", slog.String("followerID", member.ID), slog.String("followeeID", followeeID))
	return nil
}

func (s *FollowService) Unfollow(ctx context.Context, member *model.Member, followeeID string) error {
	followeeID, err := s.target(member, followeeID)
	if err != nil {
		return err
	}
	if err := s.follows.Unfollow(ctx, member.ID, followeeID); err != nil {
		return fmt.Errorf("unfollowing member: %w", err)
	}
	return nil
}

func (s *FollowService) Following(ctx context.Context, member *model.Member) ([]*model.MemberSummary, error) {
	if member == nil {
		return nil, apperror.Unauthorized()
	}
	return s.follows.ListFollowees(ctx, member.ID)
}

func (s *FollowService) target(member *model.Member, followeeID string) (string, error) {
	if member == nil {
		return "", apperror.Unauthorized()
	}
	followeeID = strings.TrimSpace(followeeID)
	if followeeID == "" {
		return "", apperror.ValidationFailed("memberId", "member ID is required")
	}
	if followeeID == member.ID {
		return "", apperror.ValidationFailed("memberId", "cannot follow yourself")
	}
	return followeeID, nil
}
