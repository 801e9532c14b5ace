// Package session holds the login state of one portal user.
//
// A Session is created by Login, persisted by a Store and destroyed by
// Store.Clear on logout. Operations that need a credential receive the
// session explicitly.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/3leaps/meshport/pkg/portal"
)

// ErrCredentialsRequired is returned before any network call when the
// username or password is blank.
var ErrCredentialsRequired = errors.New("Username and password are required.")

// Session is an authenticated portal login.
type Session struct {
	Username   string    `json:"username"`
	Token      string    `json:"token"`
	IsAdmin    bool      `json:"is_admin"`
	BackendURL string    `json:"backend_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Authenticator is the subset of the portal client Login needs.
type Authenticator interface {
	Login(ctx context.Context, creds portal.Credentials) (*portal.LoginResult, error)
	BaseURL() string
}

// ValidateCredentials checks that both fields are present.
func ValidateCredentials(creds portal.Credentials) error {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return ErrCredentialsRequired
	}
	return nil
}

// Login authenticates against the backend and returns a new session.
func Login(ctx context.Context, auth Authenticator, creds portal.Credentials) (*Session, error) {
	if err := ValidateCredentials(creds); err != nil {
		return nil, err
	}
	res, err := auth.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	return &Session{
		Username:   strings.TrimSpace(creds.Username),
		Token:      res.Token,
		IsAdmin:    res.IsAdmin,
		BackendURL: auth.BaseURL(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Authenticated reports whether s carries a token. Safe on nil.
func (s *Session) Authenticated() bool {
	return s != nil && strings.TrimSpace(s.Token) != ""
}

// BearerToken returns the token, or "" for a nil session.
func (s *Session) BearerToken() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.Token)
}

// User returns the username, or "" for a nil session.
func (s *Session) User() string {
	if s == nil {
		return ""
	}
	return s.Username
}

// ValidFor reports whether the session was issued by the backend at baseURL.
func (s *Session) ValidFor(baseURL string) bool {
	if !s.Authenticated() {
		return false
	}
	norm := func(u string) string { return strings.TrimRight(strings.TrimSpace(u), "/") }
	return norm(s.BackendURL) == norm(baseURL)
}
