package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loophabits/loop-client/internal/core/domain"
)

// SessionService holds the process-wide auth state. It is constructed
// once and started on boot: a persisted token resolves to a profile
// fetch, and nothing downstream runs until the session is Ready.
type SessionService struct {
	tokens  domain.TokenStore
	profile domain.ProfileAPI

	// onTokenChange propagates the active token to the transport layer
	// (API client, websocket dialer). Called with "" on logout.
	onTokenChange func(token string)

	now func() time.Time

	mu      sync.RWMutex
	session domain.Session
	ready   bool
}

func NewSessionService(tokens domain.TokenStore, profile domain.ProfileAPI, onTokenChange func(string)) *SessionService {
	return &SessionService{
		tokens:        tokens,
		profile:       profile,
		onTokenChange: onTokenChange,
		now:           time.Now,
	}
}

// Start resolves the persisted token, if any. An absent, expired, or
// rejected token yields a valid logged-out session; only transport
// failures during the profile fetch are returned as errors, leaving
// the session not ready (the loading gate stays closed).
func (s *SessionService) Start(ctx context.Context) error {
	token, err := s.tokens.LoadToken(ctx)
	if err != nil {
		log.Printf("[AUTH] Token load failed, starting logged out: %v", err)
		s.becomeLoggedOut(ctx, false)
		return nil
	}
	if token == "" {
		s.becomeLoggedOut(ctx, false)
		return nil
	}

	if err := s.checkExpiry(token); err != nil {
		log.Printf("[AUTH] Persisted token rejected: %v", err)
		s.becomeLoggedOut(ctx, true)
		return nil
	}

	s.propagateToken(token)

	user, err := s.profile.Profile(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.becomeLoggedOut(ctx, true)
			return nil
		}
		return fmt.Errorf("session: profile fetch failed: %w", err)
	}

	s.mu.Lock()
	s.session = domain.Session{Token: token, User: user, IsAuthenticated: true}
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Login persists the token and establishes the session. When the
// caller already has the user object (login response), no extra fetch
// happens; otherwise the profile is resolved from the token.
func (s *SessionService) Login(ctx context.Context, token string, user *domain.User) error {
	if token == "" {
		return domain.ErrNoToken
	}

	if err := s.tokens.SaveToken(ctx, token); err != nil {
		log.Printf("[AUTH] Token persist failed, session is memory-only: %v", err)
	}
	s.propagateToken(token)

	if user == nil {
		fetched, err := s.profile.Profile(ctx)
		if err != nil {
			return fmt.Errorf("session: profile fetch failed: %w", err)
		}
		user = fetched
	}

	s.mu.Lock()
	s.session = domain.Session{Token: token, User: user, IsAuthenticated: true}
	s.ready = true
	s.mu.Unlock()
	return nil
}

// Logout clears the session synchronously. No server round-trip is
// required; the token simply stops existing client-side.
func (s *SessionService) Logout() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.becomeLoggedOut(ctx, true)
}

// Session returns a copy of the current auth state.
func (s *SessionService) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Ready reports whether the boot-time token resolution finished. While
// false, callers must not render dependent state (loading gate).
func (s *SessionService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// checkExpiry gates on the token's exp claim without verifying the
// signature; the backend remains the authority and will reject a
// forged token anyway. This only avoids booting with a token that is
// already dead.
func (s *SessionService) checkExpiry(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("unparseable token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp != nil && exp.Before(s.now()) {
		return domain.ErrTokenExpired
	}
	return nil
}

func (s *SessionService) becomeLoggedOut(ctx context.Context, clearStored bool) {
	if clearStored {
		if err := s.tokens.ClearToken(ctx); err != nil {
			log.Printf("[AUTH] Token clear failed: %v", err)
		}
	}
	s.propagateToken("")

	s.mu.Lock()
	s.session = domain.Session{}
	s.ready = true
	s.mu.Unlock()
}

func (s *SessionService) propagateToken(token string) {
	if s.onTokenChange != nil {
		s.onTokenChange(token)
	}
}
