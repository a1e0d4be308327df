package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// UserInfo is a user's public profile with follow counts.
type UserInfo struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profileImageUrl"`
	FollowerCount   int    `json:"followerCount"`
	FollowingCount  int    `json:"followingCount"`
	IsFollowing     bool   `json:"isFollowing"`
}

// FollowService covers /follow.
type FollowService struct {
	c Client
}

// NewFollowService returns a FollowService.
func NewFollowService(c Client) *FollowService {
	return &FollowService{c: c}
}

// UserInfo looks a user up by username. The chat client uses it to resolve the id for
// GetOrCreateRoom.
func (s *FollowService) UserInfo(ctx context.Context, username string) (UserInfo, error) {
	return call[UserInfo](ctx, s.c, http.MethodGet, "/follow/user/"+url.PathEscape(username), nil)
}

// Follow follows userID.
func (s *FollowService) Follow(ctx context.Context, userID int64) error {
	return exec(ctx, s.c, http.MethodPost, fmt.Sprintf("/follow/%d", userID), nil)
}

// Unfollow unfollows userID.
func (s *FollowService) Unfollow(ctx context.Context, userID int64) error {
	return exec(ctx, s.c, http.MethodDelete, fmt.Sprintf("/follow/%d", userID), nil)
}

// Status reports whether the signed-in user follows userID.
func (s *FollowService) Status(ctx context.Context, userID int64) (bool, error) {
	return call[bool](ctx, s.c, http.MethodGet, fmt.Sprintf("/follow/%d/status", userID), nil)
}

// Followers lists the users following userID.
func (s *FollowService) Followers(ctx context.Context, userID int64) ([]UserInfo, error) {
	return call[[]UserInfo](ctx, s.c, http.MethodGet, fmt.Sprintf("/follow/%d/followers", userID), nil)
}

// Following lists the users userID follows.
func (s *FollowService) Following(ctx context.Context, userID int64) ([]UserInfo, error) {
	return call[[]UserInfo](ctx, s.c, http.MethodGet, fmt.Sprintf("/follow/%d/following", userID), nil)
}
