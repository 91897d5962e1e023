package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/cache"
	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// SessionCookieName is the cookie carrying the browser session identifier.
const SessionCookieName = "gatehouse_session"

// SessionService manages browser sessions with a write-through cache in
// front of the session repository.
type SessionService struct {
	repo  domain.SessionRepository
	store cache.SessionStore
	ttl   time.Duration

	now func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(repo domain.SessionRepository, store cache.SessionStore, ttl time.Duration) *SessionService {
	return &SessionService{
		repo:  repo,
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Create opens a new session for the user and caches it.
func (s *SessionService) Create(ctx context.Context, userID, ipAddress, userAgent string) (*domain.Session, error) {
	now := s.now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to cache session")
	}

	return session, nil
}

// Get returns the session with the given id if it is still active. Revoked
// and expired sessions are reported as ErrSessionRevoked.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, cache.ErrNotCached) {
			log.Warn().Err(err).Str("session_id", id).Msg("session cache read failed")
		}
		session, err = s.repo.GetSessionByID(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	if !session.Active(s.now()) {
		return nil, serrors.ErrSessionRevoked
	}

	return session, nil
}

// Extend pushes the session expiry forward by the configured TTL and
// refreshes the cached copy.
func (s *SessionService) Extend(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	session.ExpiresAt = s.now().Add(s.ttl)
	if err := s.repo.ExtendSession(ctx, id, session.ExpiresAt); err != nil {
		// A session revoked between the read above and the update must
		// not be written back to the cache as active.
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.ErrSessionRevoked
		}
		return nil, err
	}
	if err := s.store.Set(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to refresh cached session")
	}

	return session, nil
}

// Revoke invalidates a session. The cached copy is removed before the
// backing record is marked revoked so a stale cache entry cannot outlive
// the revocation.
func (s *SessionService) Revoke(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	return s.repo.RevokeSession(ctx, id)
}

// RevokeUserSessions invalidates every session of the given user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) error {
	sessions, err := s.repo.GetUserSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if err := s.store.Delete(ctx, session.ID); err != nil {
			return err
		}
	}
	return s.repo.RevokeUserSessions(ctx, userID)
}

// Cookie builds the session cookie for the given session.
func (s *SessionService) Cookie(session *domain.Session) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearCookie builds an expired session cookie used to log the browser out.
func (s *SessionService) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}
