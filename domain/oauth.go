package domain

import "time"

// Application is a registered OAuth client.
type Application struct {
	ID           string   `bson:"_id,omitempty"`
	ClientID     string   `bson:"client_id"` // unique
	ClientSecret string   `bson:"client_secret,omitempty"`
	Name         string   `bson:"name"`
	GroupID      string   `bson:"group_id"`
	RedirectURIs []string `bson:"redirect_uris"`
	Active       bool     `bson:"active"`
	// ConsentMode and ConsentExpireSeconds control re-approval for this
	// application's grants, mirroring the consent stage configuration.
	ConsentMode          ConsentMode `bson:"consent_mode"`
	ConsentExpireSeconds int64       `bson:"consent_expire_seconds,omitempty"`
	CreatedAt            time.Time   `bson:"created_at"`
}

// ApplicationGroup bounds the scopes its applications may request.
type ApplicationGroup struct {
	ID            string   `bson:"_id,omitempty"`
	Name          string   `bson:"name"`
	AllowedScopes []string `bson:"allowed_scopes"`
}

// OAuthSession is one user's grant toward one application.
type OAuthSession struct {
	ID        string    `bson:"_id,omitempty"`
	UserID    string    `bson:"user_id"`
	ClientID  string    `bson:"client_id"`
	SessionID string    `bson:"session_id"` // owning browser session
	Scopes    []string  `bson:"scopes"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
	IsRevoked bool      `bson:"is_revoked,omitempty"`
}

// RefreshToken is an opaque single-use identifier bound to an OAuth
// session. Value is rotated on every use; a reused value revokes the
// whole owning session.
type RefreshToken struct {
	ID        string    `bson:"_id,omitempty"`
	Value     string    `bson:"value"` // unique
	SessionID string    `bson:"session_id"`
	Used      bool      `bson:"used"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// AccessToken records an issued access token. The token itself is a signed
// JWT; only metadata is persisted, keyed by the JWT ID.
type AccessToken struct {
	ID             string    `bson:"_id,omitempty"` // jti
	SessionID      string    `bson:"session_id"`
	RefreshTokenID string    `bson:"refresh_token_id,omitempty"`
	Scopes         []string  `bson:"scopes,omitempty"`
	ExpiresAt      time.Time `bson:"expires_at"`
	CreatedAt      time.Time `bson:"created_at"`
	IsRevoked      bool      `bson:"is_revoked,omitempty"`
}

// Consent is the per-user-per-application approval record.
type Consent struct {
	ID        string      `bson:"_id,omitempty"`
	UserID    string      `bson:"user_id"`
	ClientID  string      `bson:"client_id"`
	Scopes    []string    `bson:"scopes"`
	Given     bool        `bson:"given"`
	Implicit  bool        `bson:"implicit,omitempty"`
	Mode      ConsentMode `bson:"mode"`
	ExpiresAt *time.Time  `bson:"expires_at,omitempty"` // ConsentModeUntil only
	CreatedAt time.Time   `bson:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at"`
}

// Satisfies reports whether this consent covers the requested scopes at
// the given instant, honoring the mode-dependent expiry.
func (c *Consent) Satisfies(scopes []string, now time.Time) bool {
	if c == nil || !c.Given {
		return false
	}
	if c.Mode == ConsentModeAlways {
		return false
	}
	if c.Mode == ConsentModeUntil {
		if c.ExpiresAt == nil || !now.Before(*c.ExpiresAt) {
			return false
		}
	}
	granted := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range scopes {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}
