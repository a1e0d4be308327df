package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"forum-client/internal/gateway"
)

// Comment is a comment on a post with its replies nested one level deep.
type Comment struct {
	ID              int64     `json:"id"`
	Body            string    `json:"body"`
	Username        string    `json:"username"`
	UserID          int64     `json:"userId"`
	PostID          int64     `json:"postId"`
	ParentCommentID *int64    `json:"parentCommentId"`
	IsPinned        bool      `json:"isPinned"`
	LikeCount       int64     `json:"likeCount"`
	IsLiked         bool      `json:"isLiked"`
	CreateDateTime  Time      `json:"createDateTime"`
	UpdateDateTime  Time      `json:"updateDateTime"`
	Replies         []Comment `json:"replies"`
}

// NewComment is the body of Create. A nil ParentCommentID starts a new thread.
type NewComment struct {
	PostID          int64  `json:"postId"`
	Body            string `json:"body"`
	ParentCommentID *int64 `json:"parentCommentId,omitempty"`
}

type commentEdit struct {
	Body string `json:"body"`
}

// CommentService covers /comment.
type CommentService struct {
	c Client
}

// NewCommentService returns a CommentService.
func NewCommentService(c Client) *CommentService {
	return &CommentService{c: c}
}

// List returns the comments on postID, pinned ones first as the backend orders them.
func (s *CommentService) List(ctx context.Context, postID int64) ([]Comment, error) {
	q := url.Values{"postId": {strconv.FormatInt(postID, 10)}}
	return call[[]Comment](ctx, s.c, http.MethodGet, "/comment", nil, gateway.WithQuery(q))
}

// Create posts a comment or a reply.
func (s *CommentService) Create(ctx context.Context, in NewComment) (Comment, error) {
	return call[Comment](ctx, s.c, http.MethodPost, "/comment", in)
}

// Edit replaces the body of a comment the signed-in user wrote.
func (s *CommentService) Edit(ctx context.Context, id int64, body string) (Comment, error) {
	return call[Comment](ctx, s.c, http.MethodPatch, fmt.Sprintf("/comment/%d", id), commentEdit{Body: body})
}

// Delete removes a comment.
func (s *CommentService) Delete(ctx context.Context, id int64) error {
	return exec(ctx, s.c, http.MethodDelete, fmt.Sprintf("/comment/%d", id), nil)
}

// ToggleLike likes the comment, or unlikes it if already liked.
func (s *CommentService) ToggleLike(ctx context.Context, id int64) (Comment, error) {
	return call[Comment](ctx, s.c, http.MethodPost, fmt.Sprintf("/comment/%d/like", id), nil)
}

// TogglePin pins or unpins the comment. Only the post's author may.
func (s *CommentService) TogglePin(ctx context.Context, id int64) (Comment, error) {
	return call[Comment](ctx, s.c, http.MethodPost, fmt.Sprintf("/comment/%d/pin", id), nil)
}
