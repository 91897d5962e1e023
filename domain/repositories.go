package domain

import (
	"context"
	"time"
)

// UserRepository provides access to user records.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByName(ctx context.Context, name string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error
	// SetAttributes merges collected prompt answers into the user record.
	SetAttributes(ctx context.Context, id string, attrs map[string]string) error
}

// FlowRepository resolves flow, stage and policy configuration.
type FlowRepository interface {
	GetFlowBySlug(ctx context.Context, slug string) (*Flow, error)
	GetStageBySlug(ctx context.Context, slug string) (*Stage, error)
	GetStagesBySlugs(ctx context.Context, slugs []string) (map[string]*Stage, error)
	GetPolicyBySlug(ctx context.Context, slug string) (*Policy, error)
}

// SessionRepository stores browser sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByID(ctx context.Context, id string) (*Session, error)
	GetUserSessions(ctx context.Context, userID string) ([]*Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeUserSessions(ctx context.Context, userID string) error

	// ExtendSession pushes the expiry of an active session and returns
	// ErrNotFound when the session is gone or already revoked.
	ExtendSession(ctx context.Context, id string, expiresAt time.Time) error
}

// OAuthRepository stores applications, OAuth sessions and issued tokens.
type OAuthRepository interface {
	GetApplicationByClientID(ctx context.Context, clientID string) (*Application, error)
	GetApplicationGroup(ctx context.Context, id string) (*ApplicationGroup, error)

	UpsertOAuthSession(ctx context.Context, session *OAuthSession) (*OAuthSession, error)
	GetOAuthSession(ctx context.Context, id string) (*OAuthSession, error)
	GetOAuthSessionByUserClient(ctx context.Context, userID, clientID string) (*OAuthSession, error)
	RevokeOAuthSession(ctx context.Context, id string) error

	StoreAccessToken(ctx context.Context, token *AccessToken) error
	StoreRefreshToken(ctx context.Context, token *RefreshToken) error
	GetAccessToken(ctx context.Context, id string) (*AccessToken, error)
	// ConsumeRefreshToken atomically marks the refresh token with the given
	// value as used, returning it only if it was unused. ErrNotFound is
	// returned both for unknown and for already-consumed values; callers
	// distinguish replay via GetRefreshTokenByValue.
	ConsumeRefreshToken(ctx context.Context, value string) (*RefreshToken, error)
	GetRefreshTokenByValue(ctx context.Context, value string) (*RefreshToken, error)
	RevokeSessionTokens(ctx context.Context, sessionID string) error
}

// ConsentRepository stores per-user-per-application consents.
type ConsentRepository interface {
	GetConsent(ctx context.Context, userID, clientID string) (*Consent, error)
	UpsertConsent(ctx context.Context, consent *Consent) error
	RevokeConsent(ctx context.Context, userID, clientID string) error
}

// TenantRepository resolves tenants by host.
type TenantRepository interface {
	GetTenantByHost(ctx context.Context, host string) (*Tenant, error)
	GetDefaultTenant(ctx context.Context) (*Tenant, error)
}
