package backend

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SessionEventKind names an auth state change.
type SessionEventKind string

// Session event kinds.
const (
	SessionInitial   SessionEventKind = "initial"
	SessionSignedIn  SessionEventKind = "signed-in"
	SessionSignedOut SessionEventKind = "signed-out"
	SessionRefreshed SessionEventKind = "token-refreshed"
)

// SessionEvent is delivered to subscribers on every auth change. Session is
// nil for signed-out.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

// SessionProvider exposes the current session and its changes.
type SessionProvider interface {
	Current() *Session
	Subscribe() (<-chan SessionEvent, func())
}

// Sessions holds the process-wide session and fans changes out to
// subscribers. It satisfies SessionProvider and TokenSource.
type Sessions struct {
	auth *AuthClient

	mu      sync.RWMutex
	current *Session
	subs    map[chan SessionEvent]struct{}
	now     func() time.Time
}

var (
	_ SessionProvider = (*Sessions)(nil)
	_ TokenSource     = (*Sessions)(nil)
)

// NewSessions returns an empty provider. auth may be nil when sessions are
// only ever set from tokens.
func NewSessions(auth *AuthClient) *Sessions {
	return &Sessions{auth: auth, subs: make(map[chan SessionEvent]struct{}), now: time.Now}
}

// Current returns the held session, or nil.
func (s *Sessions) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// AccessToken returns the token of a valid session, or "".
func (s *Sessions) AccessToken() string {
	cur := s.Current()
	if !cur.Valid(s.now()) {
		return ""
	}
	return cur.AccessToken
}

// Subscribe returns a channel that first receives an initial event with
// the current session. Slow subscribers miss events rather than block
// sign-in. The returned func unsubscribes.
func (s *Sessions) Subscribe() (<-chan SessionEvent, func()) {
	ch := make(chan SessionEvent, 8)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- SessionEvent{Kind: SessionInitial, Session: s.current}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Set replaces the session and notifies subscribers.
func (s *Sessions) Set(sess *Session, kind SessionEventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	for ch := range s.subs {
		select {
		case ch <- SessionEvent{Kind: kind, Session: sess}:
		default:
			zap.L().Warn("backend: session subscriber full, event dropped", zap.String("kind", string(kind)))
		}
	}
}

// SignIn signs in with a password grant.
func (s *Sessions) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if s.auth == nil {
		return nil, eris.New("backend: no auth client configured")
	}
	sess, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.Set(sess, SessionSignedIn)
	return sess, nil
}

// SetTokens adopts an externally issued token pair.
func (s *Sessions) SetTokens(access, refresh string) (*Session, error) {
	sess, err := SessionFromToken(access, refresh)
	if err != nil {
		return nil, err
	}
	s.Set(sess, SessionSignedIn)
	return sess, nil
}

// SignOut revokes the session upstream (best effort) and clears it.
func (s *Sessions) SignOut(ctx context.Context) {
	cur := s.Current()
	if cur == nil {
		return
	}
	if s.auth != nil {
		if err := s.auth.SignOut(ctx, cur.AccessToken); err != nil {
			zap.L().Warn("backend: sign out failed", zap.Error(err))
		}
	}
	s.Set(nil, SessionSignedOut)
}

// KeepFresh refreshes the session shortly before it expires until ctx is
// done. A failed refresh signs the user out.
func (s *Sessions) KeepFresh(ctx context.Context, margin time.Duration) {
	for {
		cur := s.Current()
		wait := time.Minute
		if cur != nil && !cur.ExpiresAt.IsZero() {
			wait = max(cur.ExpiresAt.Sub(s.now())-margin, time.Second)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.refreshIfDue(ctx, margin); err != nil {
			zap.L().Error("backend: session refresh failed", zap.Error(err))
			s.Set(nil, SessionSignedOut)
		}
	}
}

func (s *Sessions) refreshIfDue(ctx context.Context, margin time.Duration) error {
	cur := s.Current()
	if cur == nil || cur.RefreshToken == "" || s.auth == nil || cur.ExpiresAt.IsZero() {
		return nil
	}
	if s.now().Add(margin).Before(cur.ExpiresAt) {
		return nil
	}
	next, err := s.auth.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		return err
	}
	s.Set(next, SessionRefreshed)
	return nil
}
