package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"forum-client/internal/gateway"
)

// GroupPostSummary is one row of a group's activity feed.
type GroupPostSummary struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Username        string `json:"username"`
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profileImageUrl"`
	CreateDateTime  Time   `json:"createDateTime"`
}

// GroupPostDetail is a single group post as the signed-in member sees it.
type GroupPostDetail struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Username        string   `json:"username"`
	Nickname        string   `json:"nickname"`
	Views           string   `json:"views"` // a string on this endpoint
	ProfileImageURL string   `json:"profileImageUrl"`
	IsAuthor        bool     `json:"isAuthor"`
	CanEdit         bool     `json:"canEdit"`
	CanDelete       bool     `json:"canDelete"`
	IsPublic        bool     `json:"isPublic"`
	LikeCount       int64    `json:"likeCount"`
	IsLiked         bool     `json:"isLiked"`
	Tags            []string `json:"tags"`
	CreateDateTime  Time     `json:"createDateTime"`
	UpdateDateTime  Time     `json:"updateDateTime"`
}

// GroupPostInput is the body of create and update. IsPublic exposes the post outside the group.
type GroupPostInput struct {
	Title           string   `json:"title,omitempty"`
	Body            string   `json:"body,omitempty"`
	ProfileImageURL string   `json:"profileImageUrl,omitempty"`
	IsPublic        *bool    `json:"isPublic,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// GroupPostService covers /group/{g}/posts.
type GroupPostService struct {
	c Client
}

// NewGroupPostService returns a GroupPostService.
func NewGroupPostService(c Client) *GroupPostService {
	return &GroupPostService{c: c}
}

// List returns a page of groupID's posts, newest first.
func (s *GroupPostService) List(ctx context.Context, groupID int64, page, size int) (Page[GroupPostSummary], error) {
	if size <= 0 {
		size = 10
	}
	q := url.Values{
		"page": {strconv.Itoa(max(page, 0))},
		"size": {strconv.Itoa(size)},
	}
	return call[Page[GroupPostSummary]](ctx, s.c, http.MethodGet, fmt.Sprintf("/group/%d/posts", groupID), nil, gateway.WithQuery(q))
}

// Get returns one group post.
func (s *GroupPostService) Get(ctx context.Context, groupID, postID int64) (GroupPostDetail, error) {
	return call[GroupPostDetail](ctx, s.c, http.MethodGet, fmt.Sprintf("/group/%d/posts/%d", groupID, postID), nil)
}

// Create publishes a post to groupID and returns its id.
func (s *GroupPostService) Create(ctx context.Context, groupID int64, in GroupPostInput) (int64, error) {
	return call[int64](ctx, s.c, http.MethodPost, fmt.Sprintf("/group/%d/posts", groupID), in)
}

// Update patches a group post.
func (s *GroupPostService) Update(ctx context.Context, groupID, postID int64, in GroupPostInput) error {
	return exec(ctx, s.c, http.MethodPatch, fmt.Sprintf("/group/%d/posts/%d", groupID, postID), in)
}

// Delete removes a group post.
func (s *GroupPostService) Delete(ctx context.Context, groupID, postID int64) error {
	return exec(ctx, s.c, http.MethodDelete, fmt.Sprintf("/group/%d/posts/%d", groupID, postID), nil)
}
