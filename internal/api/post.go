package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"forum-client/internal/gateway"
)

// Post sort orders accepted by the listing endpoints. RESENT is the backend's spelling.
const (
	SortRecent = "RESENT"
	SortViews  = "VIEWS"
)

// PostSummary is one row of a post listing.
type PostSummary struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Username        string `json:"username"`
	Views           int64  `json:"views"`
	ProfileImageURL string `json:"profileImageUrl"`
	CreateDateTime  Time   `json:"createDateTime"`
}

// PostDetail is a single post.
type PostDetail struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Body            string   `json:"body"`
	Username        string   `json:"username"`
	Nickname        string   `json:"nickname"`
	Views           int64    `json:"views"`
	ProfileImageURL string   `json:"profileImageUrl"`
	Tags            []string `json:"tags"`
	CreateDateTime  Time     `json:"createDateTime"`
	UpdateDateTime  Time     `json:"updateDateTime"`
}

// PostInput is the body of create and update. Update sends only non-empty fields.
type PostInput struct {
	Title           string   `json:"title,omitempty"`
	Body            string   `json:"body,omitempty"`
	ProfileImageURL string   `json:"profileImageUrl,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// ListOptions selects a page of posts.
type ListOptions struct {
	Page int
	Size int
	Sort string
}

func (o ListOptions) query() url.Values {
	size := o.Size
	if size <= 0 {
		size = 10
	}
	sort := o.Sort
	if sort == "" {
		sort = SortRecent
	}
	return url.Values{
		"page":     {strconv.Itoa(max(o.Page, 0))},
		"size":     {strconv.Itoa(size)},
		"sortType": {sort},
	}
}

// PostService covers /post.
type PostService struct {
	c Client
}

// NewPostService returns a PostService.
func NewPostService(c Client) *PostService {
	return &PostService{c: c}
}

// List returns a page of all posts.
func (s *PostService) List(ctx context.Context, opts ListOptions) (Page[PostSummary], error) {
	return call[Page[PostSummary]](ctx, s.c, http.MethodGet, "/post", nil, gateway.WithQuery(opts.query()))
}

// ListMine returns a page of the signed-in user's posts.
func (s *PostService) ListMine(ctx context.Context, opts ListOptions) (Page[PostSummary], error) {
	return call[Page[PostSummary]](ctx, s.c, http.MethodGet, "/post/my-post", nil, gateway.WithQuery(opts.query()))
}

// Get returns one post.
func (s *PostService) Get(ctx context.Context, id int64) (PostDetail, error) {
	return call[PostDetail](ctx, s.c, http.MethodGet, fmt.Sprintf("/post/%d", id), nil)
}

// Create publishes a post.
func (s *PostService) Create(ctx context.Context, in PostInput) error {
	return exec(ctx, s.c, http.MethodPost, "/post", in)
}

// Update patches a post.
func (s *PostService) Update(ctx context.Context, id int64, in PostInput) error {
	return exec(ctx, s.c, http.MethodPatch, fmt.Sprintf("/post/%d", id), in)
}

// Delete removes a post.
func (s *PostService) Delete(ctx context.Context, id int64) error {
	return exec(ctx, s.c, http.MethodDelete, fmt.Sprintf("/post/%d", id), nil)
}
