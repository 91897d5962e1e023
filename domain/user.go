package domain

import "time"

// User represents an account in the system.
type User struct {
	ID                   string            `bson:"_id,omitempty"`
	Name                 string            `bson:"name"` // unique
	Email                string            `bson:"email,omitempty"`
	PasswordHash         string            `bson:"password_hash"`
	PasswordChangedAt    time.Time         `bson:"password_changed_at"`
	Roles                []string          `bson:"roles,omitempty"`
	GroupIDs             []string          `bson:"group_ids,omitempty"`
	IsAdmin              bool              `bson:"is_admin,omitempty"`
	RequirePasswordReset bool              `bson:"require_password_reset,omitempty"`
	Attributes           map[string]string `bson:"attributes,omitempty"`
	CreatedAt            time.Time         `bson:"created_at"`
	UpdatedAt            time.Time         `bson:"updated_at"`
}

// PendingUser is the provisional identity established by an identification
// stage. It is not authenticated until a password (or equivalent) stage
// marks it so.
type PendingUser struct {
	UID           string `json:"uid"`
	Name          string `json:"name"`
	IsAdmin       bool   `json:"is_admin"`
	Authenticated bool   `json:"authenticated"`
}
