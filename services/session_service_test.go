package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/cache"
	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session

	// onExtend runs before ExtendSession touches the record, letting a
	// test interleave a competing write.
	onExtend func()
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (f *fakeSessionRepo) CreateSession(_ context.Context, session *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *session
	f.sessions[session.ID] = &stored
	return nil
}

func (f *fakeSessionRepo) GetSessionByID(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionRepo) GetUserSessions(_ context.Context, userID string) ([]*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Session
	for _, session := range f.sessions {
		if session.UserID == userID && !session.IsRevoked {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) RevokeSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.IsRevoked = true
	}
	return nil
}

func (f *fakeSessionRepo) RevokeUserSessions(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.UserID == userID {
			session.IsRevoked = true
		}
	}
	return nil
}

func (f *fakeSessionRepo) ExtendSession(_ context.Context, id string, expiresAt time.Time) error {
	if f.onExtend != nil {
		f.onExtend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok || session.IsRevoked {
		return serrors.ErrNotFound
	}
	session.ExpiresAt = expiresAt
	return nil
}

func newTestSessionService(t *testing.T) (*SessionService, *fakeSessionRepo) {
	t.Helper()
	repo := newFakeSessionRepo()
	store := cache.NewMemorySessionStore(24 * time.Hour)
	t.Cleanup(store.Stop)
	return NewSessionService(repo, store, 24*time.Hour), repo
}

func TestSessionLifecycle(t *testing.T) {
	svc, _ := newTestSessionService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "user-1", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	got, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	require.NoError(t, svc.Revoke(ctx, session.ID))
	_, err = svc.Get(ctx, session.ID)
	assert.ErrorIs(t, err, serrors.ErrSessionRevoked)
}

func TestGetFallsBackToRepository(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	// Session exists only in the repository, not in the cache.
	now := time.Now()
	repo.sessions["s-1"] = &domain.Session{
		ID:        "s-1",
		UserID:    "user-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	got, err := svc.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
}

func TestGetExpiredSession(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	repo.sessions["s-1"] = &domain.Session{
		ID:        "s-1",
		UserID:    "user-1",
		CreatedAt: time.Now().Add(-48 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}

	_, err := svc.Get(ctx, "s-1")
	assert.ErrorIs(t, err, serrors.ErrSessionRevoked)
}

func TestExtendPushesExpiry(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "user-1", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	before := session.ExpiresAt

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	extended, err := svc.Extend(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.After(before))
	assert.True(t, repo.sessions[session.ID].ExpiresAt.After(before))
}

func TestExtendLosesToConcurrentRevoke(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	session, err := svc.Create(ctx, "user-1", "10.0.0.1", "test-agent")
	require.NoError(t, err)

	// A revocation lands between Extend's read and its update. The
	// revoked session must not be written back to the cache as active.
	repo.onExtend = func() { require.NoError(t, svc.Revoke(ctx, session.ID)) }

	_, err = svc.Extend(ctx, session.ID)
	assert.ErrorIs(t, err, serrors.ErrSessionRevoked)

	_, err = svc.Get(ctx, session.ID)
	assert.ErrorIs(t, err, serrors.ErrSessionRevoked)
}

func TestRevokeUserSessions(t *testing.T) {
	svc, repo := newTestSessionService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "user-1", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	second, err := svc.Create(ctx, "user-1", "10.0.0.2", "test-agent")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeUserSessions(ctx, "user-1"))

	for _, id := range []string{first.ID, second.ID} {
		_, err := svc.Get(ctx, id)
		assert.ErrorIs(t, err, serrors.ErrSessionRevoked)
		assert.True(t, repo.sessions[id].IsRevoked)
	}
}

func TestSessionCookie(t *testing.T) {
	svc, _ := newTestSessionService(t)

	session := &domain.Session{ID: "s-1", ExpiresAt: time.Now().Add(time.Hour)}
	cookie := svc.Cookie(session)
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.Equal(t, "s-1", cookie.Value)
	assert.True(t, cookie.HttpOnly)

	cleared := svc.ClearCookie()
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Empty(t, cleared.Value)
}
