package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"
)

// Session is the signed-in user's credential.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Valid reports whether s holds an unexpired access token. A zero
// ExpiresAt never expires.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionFromToken builds a session from an access token issued by the
// auth API. The signature is not verified here; the backend verifies it on
// every request.
func SessionFromToken(access, refresh string) (*Session, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return nil, eris.Wrap(err, "backend: parse access token")
	}
	if claims.Subject == "" {
		return nil, eris.New("backend: access token has no subject")
	}
	s := &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       claims.Subject,
		Email:        claims.Email,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// AuthClient calls the GoTrue-style auth API.
type AuthClient struct {
	t    *transport
	root string
}

// NewAuthClient returns an auth client for baseURL+path.
func NewAuthClient(baseURL, path, anonKey string, opts ...Option) *AuthClient {
	t := newTransport(baseURL, anonKey, opts...)
	return &AuthClient{t: t, root: t.baseURL + path}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (r tokenResponse) session() *Session {
	s := &Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		UserID:       r.User.ID,
		Email:        r.User.Email,
	}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	if s.UserID == "" {
		if parsed, err := SessionFromToken(r.AccessToken, r.RefreshToken); err == nil {
			s.UserID, s.Email = parsed.UserID, parsed.Email
		}
	}
	return s
}

func (c *AuthClient) token(ctx context.Context, grant string, body any) (*Session, error) {
	data, err := c.t.do(ctx, call{
		method: http.MethodPost,
		url:    c.root + "/token?" + url.Values{"grant_type": {grant}}.Encode(),
		body:   body,
	})
	if err != nil {
		return nil, err
	}
	var resp tokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, eris.Wrap(err, "backend: decode token response")
	}
	if resp.AccessToken == "" {
		return nil, eris.New("backend: token response without access_token")
	}
	return resp.session(), nil
}

// SignInWithPassword exchanges email and password for a session.
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	s, err := c.token(ctx, "password", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, eris.Wrap(err, "backend: sign in")
	}
	return s, nil
}

// Refresh exchanges a refresh token for a new session.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	s, err := c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, eris.Wrap(err, "backend: refresh session")
	}
	return s, nil
}

// SignOut revokes the session's refresh token.
func (c *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	_, err := c.t.do(ctx, call{method: http.MethodPost, url: c.root + "/logout", token: accessToken})
	if err != nil {
		return eris.Wrap(err, "backend: sign out")
	}
	return nil
}
