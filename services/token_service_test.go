package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

func newTestTokenService(repo *fakeOAuthRepo) *TokenService {
	return NewTokenService(repo, []byte("test-signing-key"), "https://id.example.com",
		15*time.Minute, 720*time.Hour)
}

func seedOAuthSession(repo *fakeOAuthRepo) *domain.OAuthSession {
	session := &domain.OAuthSession{
		ID:        "os-1",
		UserID:    "user-1",
		ClientID:  "client-1",
		SessionID: "browser-1",
		Scopes:    []string{"openid", "profile"},
	}
	repo.sessions[session.ID] = session
	return session
}

func TestIssueAndVerify(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)
	session := seedOAuthSession(repo)

	pair, err := svc.Issue(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, "openid profile", pair.Scope)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := svc.Verify(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "os-1", claims.SessionID)
	assert.Equal(t, []string{"openid", "profile"}, claims.Scopes)
}

func TestVerifyExpired(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)
	session := seedOAuthSession(repo)

	past := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return past }
	pair, err := svc.Issue(context.Background(), session)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Verify(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, serrors.ErrTokenExpired)
}

func TestVerifyMalformed(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)

	_, err := svc.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, serrors.ErrTokenMalformed)
}

func TestVerifyRevokedSession(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)
	session := seedOAuthSession(repo)

	pair, err := svc.Issue(context.Background(), session)
	require.NoError(t, err)

	require.NoError(t, repo.RevokeOAuthSession(context.Background(), session.ID))
	_, err = svc.Verify(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)
}

func TestRefreshRotates(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)
	session := seedOAuthSession(repo)

	first, err := svc.Issue(context.Background(), session)
	require.NoError(t, err)

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The consumed value is dead: the second presentation is a replay.
	_, err = svc.Refresh(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)
}

func TestRefreshReplayRevokesSession(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)
	session := seedOAuthSession(repo)

	first, err := svc.Issue(context.Background(), session)
	require.NoError(t, err)
	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), first.RefreshToken)
	require.ErrorIs(t, err, serrors.ErrTokenRevoked)

	// The whole session and its successor tokens are gone.
	assert.True(t, repo.sessions[session.ID].IsRevoked)
	_, err = svc.Refresh(context.Background(), second.RefreshToken)
	assert.Error(t, err)
	_, err = svc.Verify(context.Background(), second.AccessToken)
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)
}

func TestRefreshUnknownValue(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)

	_, err := svc.Refresh(context.Background(), "never-issued")
	assert.ErrorIs(t, err, serrors.ErrTokenMalformed)
}

func TestRefreshExpiredValue(t *testing.T) {
	repo := newFakeOAuthRepo()
	svc := newTestTokenService(repo)
	session := seedOAuthSession(repo)

	svc.now = func() time.Time { return time.Now().Add(-1000 * time.Hour) }
	pair, err := svc.Issue(context.Background(), session)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, serrors.ErrTokenExpired)
}
