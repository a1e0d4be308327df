// Package gateway issues authenticated REST calls to the forum backend and recovers from
// expired access credentials with a single in-flight refresh shared by all callers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"forum-client/internal/credential"
	"forum-client/internal/logging"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRefreshPath  = "/auth/refresh"
	instrumentationName = "forum-client/gateway"
	requestIDHeader     = "X-Request-ID"
)

// RefreshState is the Gateway's refresh state machine.
type RefreshState int

const (
	// RefreshIdle means no refresh is in flight; the pending queue is empty.
	RefreshIdle RefreshState = iota
	// RefreshInFlight means exactly one refresh call is outstanding; new callers queue.
	RefreshInFlight
)

func (s RefreshState) String() string {
	switch s {
	case RefreshIdle:
		return "idle"
	case RefreshInFlight:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Refresher exchanges a refresh credential for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (string, string, error)

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	return f(ctx, refreshToken)
}

// Options configures a Gateway. Zero values select defaults.
type Options struct {
	// Timeout bounds each HTTP call (default 10s).
	Timeout time.Duration
	// HTTPClient overrides the client; its Timeout and Jar are left untouched.
	HTTPClient *http.Client
	// RefreshPath is the credential refresh endpoint (default /auth/refresh).
	RefreshPath string
	// Refresher overrides the built-in refresh call.
	Refresher Refresher
	// ExemptPaths are never recovered via refresh (session-verify and self-info by default).
	ExemptPaths []string
	// Navigator and LandingRoute drive the one-shot redirect on session expiry.
	Navigator    Navigator
	LandingRoute string
	// OnSessionExpired is called once per expiry with the cause, for user notification.
	OnSessionExpired func(err error)
	Logger           *zap.Logger
	TracerProvider   trace.TracerProvider
	MeterProvider    metric.MeterProvider
	// Now is the clock used to judge refresh credential expiry.
	Now func() time.Time
}

// Gateway wraps all outbound REST calls. It is safe for concurrent use.
type Gateway struct {
	baseURL   string
	client    *http.Client
	session   *credential.Session
	refresher Refresher
	exempt    map[string]bool
	onExpired func(error)
	redirect  *redirectLatch
	log       *zap.Logger
	tracer    trace.Tracer
	nowF      func() time.Time

	refreshCounter metric.Int64Counter
	retryCounter   metric.Int64Counter

	mu      sync.Mutex
	state   RefreshState
	pending pendingQueue
	closed  bool
}

// New returns a Gateway that sends requests to baseURL with credentials from session.
func New(baseURL string, session *credential.Session, opts Options) (*Gateway, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base URL %q", baseURL)
	}
	if session == nil {
		return nil, errors.New("gateway: session is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		client = &http.Client{Timeout: timeout, Jar: jar}
	}
	exemptPaths := opts.ExemptPaths
	if exemptPaths == nil {
		exemptPaths = []string{"/auth/verify", "/auth/me"}
	}
	refreshPath := opts.RefreshPath
	if refreshPath == "" {
		refreshPath = defaultRefreshPath
	}
	exempt := make(map[string]bool, len(exemptPaths)+2)
	for _, p := range exemptPaths {
		exempt[p] = true
	}
	// The refresh and login calls must never recurse into a refresh.
	exempt[refreshPath] = true
	exempt["/auth/login"] = true

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	refreshCounter, err := meter.Int64Counter("forum.gateway.refreshes",
		metric.WithDescription("Credential refresh attempts by outcome"))
	if err != nil {
		return nil, err
	}
	retryCounter, err := meter.Int64Counter("forum.gateway.retries",
		metric.WithDescription("Requests replayed after a credential refresh"))
	if err != nil {
		return nil, err
	}

	nowF := opts.Now
	if nowF == nil {
		nowF = time.Now
	}
	landing := opts.LandingRoute
	if landing == "" {
		landing = "/"
	}

	g := &Gateway{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         client,
		session:        session,
		exempt:         exempt,
		onExpired:      opts.OnSessionExpired,
		redirect:       &redirectLatch{nav: opts.Navigator, landing: landing},
		log:            logging.OrNop(opts.Logger).Named("gateway"),
		tracer:         tp.Tracer(instrumentationName),
		nowF:           nowF,
		refreshCounter: refreshCounter,
		retryCounter:   retryCounter,
	}
	g.refresher = opts.Refresher
	if g.refresher == nil {
		g.refresher = &httpRefresher{g: g, path: refreshPath}
	}
	return g, nil
}

// Establish installs credentials after login or session verification and re-arms the
// expiry redirect.
func (g *Gateway) Establish(access, refresh string) {
	g.session.Establish(access, refresh)
	g.redirect.rearm()
}

// ClearSession drops the credentials (logout).
func (g *Gateway) ClearSession() {
	g.session.Clear()
}

// AccessToken returns the current access credential, or "".
func (g *Gateway) AccessToken() string { return g.session.AccessToken() }

// RefreshToken returns the current refresh credential, or "".
func (g *Gateway) RefreshToken() string { return g.session.RefreshToken() }

// Authenticated reports whether the session holds credentials.
func (g *Gateway) Authenticated() bool { return g.session.Authenticated() }

// Username returns the username from the access credential, or "".
func (g *Gateway) Username() string { return g.session.Username() }

// State returns the refresh state and the number of queued callers.
func (g *Gateway) State() (RefreshState, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.pending.len()
}

// Close rejects future requests. In-flight requests complete normally.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Response is a completed 2xx response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return errors.New("gateway: empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// RequestOption customizes a single request.
type RequestOption func(*request)

// WithQuery adds query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(r *request) {
		for k, vs := range q {
			for _, v := range vs {
				r.query.Add(k, v)
			}
		}
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *request) { r.header.Set(key, value) }
}

// request is the descriptor replayed after a refresh. attempt counts sends so a
// request is replayed at most once.
type request struct {
	method  string
	path    string
	query   url.Values
	header  http.Header
	body    []byte
	attempt int
}

// Request issues method path with an optional JSON body. A 401/403 on a non-exempt
// path triggers (or joins) a credential refresh and one replay of the request.
func (g *Gateway) Request(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	req := &request{method: method, path: path, query: url.Values{}, header: http.Header{}}
	for _, o := range opts {
		o(req)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode body: %w", err)
		}
		req.body = raw
	}

	ctx, span := g.tracer.Start(ctx, "gateway "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("url.path", path)))
	defer span.End()

	resp, err := g.do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	return resp, nil
}

// Get is Request with GET.
func (g *Gateway) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return g.Request(ctx, http.MethodGet, path, nil, opts...)
}

// Post is Request with POST.
func (g *Gateway) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return g.Request(ctx, http.MethodPost, path, body, opts...)
}

// Patch is Request with PATCH.
func (g *Gateway) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return g.Request(ctx, http.MethodPatch, path, body, opts...)
}

// Delete is Request with DELETE.
func (g *Gateway) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return g.Request(ctx, http.MethodDelete, path, nil, opts...)
}

func (g *Gateway) do(ctx context.Context, req *request) (*Response, error) {
	g.mu.Lock()
	closed := g.closed
	g.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	resp, err := g.send(ctx, req, g.session.AccessToken())
	if err != nil {
		return nil, err
	}
	if !isAuthFailure(resp.Status) || g.exempt[req.path] {
		return g.result(req, resp)
	}

	token, err := g.awaitRefresh(ctx, req)
	if err != nil {
		return nil, err
	}
	g.retryCounter.Add(ctx, 1)
	resp, err = g.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	return g.result(req, resp)
}

// awaitRefresh either joins the in-flight refresh or starts the single new one.
func (g *Gateway) awaitRefresh(ctx context.Context, req *request) (string, error) {
	g.mu.Lock()
	if g.state == RefreshInFlight {
		w := g.pending.enqueue(req.method, req.path)
		g.mu.Unlock()
		select {
		case res := <-w.done:
			return res.token, res.err
		case <-ctx.Done():
			g.mu.Lock()
			removed := g.pending.remove(w)
			g.mu.Unlock()
			if !removed {
				// Settled concurrently; the result is already buffered.
				res := <-w.done
				if res.err == nil {
					return res.token, nil
				}
			}
			return "", ctx.Err()
		}
	}
	g.state = RefreshInFlight
	g.mu.Unlock()

	token, err := g.runRefresh(ctx)

	g.mu.Lock()
	waiters := g.pending.drain()
	g.state = RefreshIdle
	g.mu.Unlock()

	res := refreshResult{token: token, err: err}
	for _, w := range waiters {
		w.settle(res)
	}
	return token, err
}

// runRefresh performs the refresh protocol. It runs detached from the caller's
// cancellation: queued callers depend on its outcome.
func (g *Gateway) runRefresh(ctx context.Context) (string, error) {
	ctx = context.WithoutCancel(ctx)
	st, epoch := g.session.Current()
	refreshToken := st.RefreshToken
	if refreshToken == "" || credentialExpired(refreshToken, g.nowF()) {
		g.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "expired")))
		g.expire(ErrSessionExpired)
		return "", ErrSessionExpired
	}

	access, refresh, err := g.refresher.Refresh(ctx, refreshToken)
	if err == nil && access == "" {
		err = errors.New("refresh returned no access credential")
	}
	if err != nil {
		g.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		if _, now := g.session.Current(); now != epoch {
			// The user left the session already; no expiry notice or redirect.
			return "", &RefreshError{Err: err}
		}
		rerr := &RefreshError{Err: err}
		g.expire(rerr)
		return "", rerr
	}
	if !g.session.RotateIf(epoch, access, refresh) {
		// Logged out (or signed in again) while the refresh was in flight. The new pair
		// belongs to a session that no longer exists and is not replayed.
		g.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "superseded")))
		g.log.Debug("discarding refresh result for a cleared session")
		return "", ErrSessionExpired
	}
	g.refreshCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	g.log.Debug("credential refreshed")
	return access, nil
}

// expire clears the session, notifies, and redirects once.
func (g *Gateway) expire(cause error) {
	g.session.Clear()
	g.log.Warn("session expired", zap.Error(cause))
	if g.onExpired != nil {
		g.onExpired(cause)
	}
	g.redirect.fire()
}

func (g *Gateway) send(ctx context.Context, req *request, token string) (*Response, error) {
	req.attempt++
	target := g.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if httpReq.Header.Get(requestIDHeader) == "" {
		httpReq.Header.Set(requestIDHeader, uuid.NewString())
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		nerr := &NetworkError{Method: req.method, URL: target, Err: err}
		g.log.Warn("network error", zap.String("method", req.method), zap.String("url", target), zap.Error(err))
		return nil, nerr
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: req.method, URL: target, Err: err}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// result converts non-2xx responses to *HTTPError.
func (g *Gateway) result(req *request, resp *Response) (*Response, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	target := g.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	herr := &HTTPError{Status: resp.Status, Method: req.method, URL: target, Body: resp.Body}
	g.log.Info("api error",
		zap.Int("status", resp.Status),
		zap.String("method", req.method),
		zap.String("url", target),
		zap.String("message", herr.ServerMessage()))
	return nil, herr
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func credentialExpired(token string, now time.Time) bool {
	return credential.IsExpired(token, now)
}

// httpRefresher posts the refresh credential to the refresh endpoint. The server also
// sets the pair as cookies, which the jar keeps.
type httpRefresher struct {
	g    *Gateway
	path string
}

type refreshEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    *struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

func (r *httpRefresher) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	raw, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", "", err
	}
	req := &request{method: http.MethodPost, path: r.path, query: url.Values{}, header: http.Header{}, body: raw}
	resp, err := r.g.send(ctx, req, "")
	if err != nil {
		return "", "", err
	}
	if _, err := r.g.result(req, resp); err != nil {
		return "", "", err
	}
	var env refreshEnvelope
	if err := resp.Decode(&env); err != nil {
		return "", "", fmt.Errorf("decode refresh response: %w", err)
	}
	if !env.Success || env.Data == nil {
		if env.Message == "" {
			env.Message = "refresh rejected"
		}
		return "", "", errors.New(env.Message)
	}
	return env.Data.AccessToken, env.Data.RefreshToken, nil
}
