package services

import (
	"context"
	"sync"
	"time"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// fakeOAuthRepo is an in-memory OAuthRepository used across the service
// tests.
type fakeOAuthRepo struct {
	mu sync.Mutex

	apps          map[string]*domain.Application
	groups        map[string]*domain.ApplicationGroup
	sessions      map[string]*domain.OAuthSession
	refreshTokens map[string]*domain.RefreshToken // by value
	accessTokens  map[string]*domain.AccessToken
}

func newFakeOAuthRepo() *fakeOAuthRepo {
	return &fakeOAuthRepo{
		apps:          make(map[string]*domain.Application),
		groups:        make(map[string]*domain.ApplicationGroup),
		sessions:      make(map[string]*domain.OAuthSession),
		refreshTokens: make(map[string]*domain.RefreshToken),
		accessTokens:  make(map[string]*domain.AccessToken),
	}
}

func (f *fakeOAuthRepo) GetApplicationByClientID(_ context.Context, clientID string) (*domain.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[clientID]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return app, nil
}

func (f *fakeOAuthRepo) GetApplicationGroup(_ context.Context, id string) (*domain.ApplicationGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return group, nil
}

func (f *fakeOAuthRepo) UpsertOAuthSession(_ context.Context, session *domain.OAuthSession) (*domain.OAuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.UserID == session.UserID && existing.ClientID == session.ClientID {
			existing.SessionID = session.SessionID
			existing.Scopes = session.Scopes
			existing.IsRevoked = false
			return existing, nil
		}
	}
	stored := *session
	if stored.ID == "" {
		stored.ID = "oauth-session-" + session.UserID + "-" + session.ClientID
	}
	f.sessions[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeOAuthRepo) GetOAuthSession(_ context.Context, id string) (*domain.OAuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return session, nil
}

func (f *fakeOAuthRepo) GetOAuthSessionByUserClient(_ context.Context, userID, clientID string) (*domain.OAuthSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		if session.UserID == userID && session.ClientID == clientID {
			return session, nil
		}
	}
	return nil, serrors.ErrNotFound
}

func (f *fakeOAuthRepo) RevokeOAuthSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.IsRevoked = true
	}
	return nil
}

func (f *fakeOAuthRepo) StoreAccessToken(_ context.Context, token *domain.AccessToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *token
	f.accessTokens[token.ID] = &stored
	return nil
}

func (f *fakeOAuthRepo) StoreRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *token
	f.refreshTokens[token.Value] = &stored
	return nil
}

func (f *fakeOAuthRepo) GetAccessToken(_ context.Context, id string) (*domain.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.accessTokens[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return token, nil
}

func (f *fakeOAuthRepo) ConsumeRefreshToken(_ context.Context, value string) (*domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.refreshTokens[value]
	if !ok || token.Used || !token.ExpiresAt.After(time.Now()) {
		return nil, serrors.ErrNotFound
	}
	token.Used = true
	return token, nil
}

func (f *fakeOAuthRepo) GetRefreshTokenByValue(_ context.Context, value string) (*domain.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.refreshTokens[value]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return token, nil
}

func (f *fakeOAuthRepo) RevokeSessionTokens(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, token := range f.accessTokens {
		if token.SessionID == sessionID {
			token.IsRevoked = true
		}
	}
	for _, token := range f.refreshTokens {
		if token.SessionID == sessionID {
			token.Used = true
		}
	}
	return nil
}

// fakeConsentRepo is an in-memory ConsentRepository.
type fakeConsentRepo struct {
	mu       sync.Mutex
	consents map[string]*domain.Consent // userID + "/" + clientID
}

func newFakeConsentRepo() *fakeConsentRepo {
	return &fakeConsentRepo{consents: make(map[string]*domain.Consent)}
}

func (f *fakeConsentRepo) GetConsent(_ context.Context, userID, clientID string) (*domain.Consent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	consent, ok := f.consents[userID+"/"+clientID]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	return consent, nil
}

func (f *fakeConsentRepo) UpsertConsent(_ context.Context, consent *domain.Consent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *consent
	f.consents[consent.UserID+"/"+consent.ClientID] = &stored
	return nil
}

func (f *fakeConsentRepo) RevokeConsent(_ context.Context, userID, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if consent, ok := f.consents[userID+"/"+clientID]; ok {
		consent.Given = false
	}
	return nil
}
