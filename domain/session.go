package domain

import "time"

// Session represents an active browser session tied to a user. It is
// created after a user_login stage succeeds and destroyed on logout or
// revocation.
type Session struct {
	ID        string    `bson:"_id,omitempty"`
	UserID    string    `bson:"user_id"`
	IPAddress string    `bson:"ip_address,omitempty"`
	UserAgent string    `bson:"user_agent,omitempty"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
	IsRevoked bool      `bson:"is_revoked,omitempty"`
}

// Active reports whether the session is usable at the given instant.
func (s *Session) Active(now time.Time) bool {
	return !s.IsRevoked && now.Before(s.ExpiresAt)
}
