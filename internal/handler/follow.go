package handler

import "github.com/sakif/sandbox-server/internal/service"

type FollowResolvers struct {
	follows *service.FollowService
}

func NewFollowResolvers(follows *service.FollowService) *FollowResolvers {
	return &FollowResolvers{follows: follows}
}

type memberIDArgs struct {
	MemberID string `json:"memberId" validate:"required"`
}

func (h *FollowResolvers) Operations() map[string]Operation {
	return map[string]Operation{
		"followMember":   op(true, h.follow),
		"unfollowMember": op(true, h.unfollow),
		"following":      op(true, h.following),
	}
}

func (h *FollowResolvers) follow(c *Call, a *memberIDArgs) (any, error) {
	if err := h.follows.Follow(c.Ctx, c.Member, a.MemberID); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *FollowResolvers) unfollow(c *Call, a *memberIDArgs) (any, error) {
	if err := h.follows.Unfollow(c.Ctx, c.Member, a.MemberID); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *FollowResolvers) following(c *Call, _ *NoArgs) (any, error) {
	return h.follows.Following(c.Ctx, c.Member)
}
