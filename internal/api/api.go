// Package api provides typed services for the forum backend's REST surface. Every call goes
// through the authenticated gateway, which handles credential attachment and refresh.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"forum-client/internal/gateway"
)

// Client issues authenticated requests. *gateway.Gateway implements it.
type Client interface {
	Request(ctx context.Context, method, path string, body any, opts ...gateway.RequestOption) (*gateway.Response, error)
}

// Error is an envelope with success=false.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ErrNoData is returned when a successful envelope carries no data where data is required.
var ErrNoData = errors.New("api: response has no data")

type envelope[T any] struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// call sends the request and unwraps the envelope's data into T.
func call[T any](ctx context.Context, c Client, method, path string, body any, opts ...gateway.RequestOption) (T, error) {
	var zero T
	resp, err := c.Request(ctx, method, path, body, opts...)
	if err != nil {
		return zero, err
	}
	env, err := decodeEnvelope[T](resp)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if env.Data == nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, ErrNoData)
	}
	return *env.Data, nil
}

// exec sends the request and checks the envelope, ignoring data.
func exec(ctx context.Context, c Client, method, path string, body any, opts ...gateway.RequestOption) error {
	resp, err := c.Request(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	if len(resp.Body) == 0 {
		return nil
	}
	if _, err := decodeEnvelope[json.RawMessage](resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func decodeEnvelope[T any](resp *gateway.Response) (*envelope[T], error) {
	var env envelope[T]
	if err := resp.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return nil, &Error{Code: env.Code, Message: env.Message}
	}
	return &env, nil
}

// Page is one page of a paginated listing.
type Page[T any] struct {
	Content       []T `json:"content"`
	TotalElements int `json:"totalElements"`
	TotalPages    int `json:"totalPages"`
}

// Time decodes the backend's timestamps, which are either RFC 3339 or zone-less local
// date-times (2024-05-01T10:00:00.123).
type Time struct {
	time.Time
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t *Time) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range localLayouts {
		if v, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("api: unrecognized time %q", s)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}
