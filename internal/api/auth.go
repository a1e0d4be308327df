package api

import (
	"context"
	"errors"
	"net/http"
)

// SessionStore installs and clears the client's credentials. *gateway.Gateway implements it.
type SessionStore interface {
	Establish(access, refresh string)
	ClearSession()
	RefreshToken() string
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
	Email    string `json:"email,omitempty"`
}

// TokenPair is the credential pair returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Me is the signed-in user's profile.
type Me struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	Nickname        string `json:"nickname"`
	Email           string `json:"email"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// AuthService covers /auth. It is the only service that changes the Credential State.
type AuthService struct {
	c     Client
	store SessionStore
}

// NewAuthService returns an AuthService.
func NewAuthService(c Client, store SessionStore) *AuthService {
	return &AuthService{c: c, store: store}
}

// Login authenticates and establishes the session.
func (s *AuthService) Login(ctx context.Context, username, password string) (TokenPair, error) {
	pair, err := call[TokenPair](ctx, s.c, http.MethodPost, "/auth/login", LoginRequest{Username: username, Password: password})
	if err != nil {
		return TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return TokenPair{}, errors.New("login: no access credential in response")
	}
	s.store.Establish(pair.AccessToken, pair.RefreshToken)
	return pair, nil
}

// Register creates an account. It does not sign in.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) error {
	return exec(ctx, s.c, http.MethodPost, "/auth/register", req)
}

// Refresh exchanges the current refresh credential for a new pair and installs it.
// Requests recover from expiry on their own; this is for callers that want a fresh
// credential up front, such as before opening the live channel.
func (s *AuthService) Refresh(ctx context.Context) (TokenPair, error) {
	pair, err := call[TokenPair](ctx, s.c, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": s.store.RefreshToken()})
	if err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = s.store.RefreshToken()
	}
	s.store.Establish(pair.AccessToken, pair.RefreshToken)
	return pair, nil
}

// Verify checks that the current session is still valid server-side.
func (s *AuthService) Verify(ctx context.Context) error {
	return exec(ctx, s.c, http.MethodGet, "/auth/verify", nil)
}

// Me returns the signed-in user.
func (s *AuthService) Me(ctx context.Context) (Me, error) {
	return call[Me](ctx, s.c, http.MethodGet, "/auth/me", nil)
}

// Logout ends the session server-side and always clears local credentials.
func (s *AuthService) Logout(ctx context.Context) error {
	err := exec(ctx, s.c, http.MethodPost, "/auth/logout", nil)
	s.store.ClearSession()
	return err
}
