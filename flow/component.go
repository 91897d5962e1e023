package flow

import (
	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// Component types rendered by the executor. The Type field discriminates
// which of the optional fields are meaningful.
const (
	ComponentIdentification = "identification"
	ComponentPassword       = "password"
	ComponentPrompt         = "prompt"
	ComponentConsent        = "consent"
	ComponentRedirect       = "redirect"
	ComponentAccessDenied   = "access_denied"
)

// Component is the client-facing description of what the current stage
// needs, serialized as a tagged union.
type Component struct {
	Type string `json:"type"`

	// identification
	UserFields   []domain.UserField `json:"user_fields,omitempty"`
	WithPassword bool               `json:"with_password,omitempty"`

	// password
	RecoveryURL string `json:"recovery_url,omitempty"`

	// prompt
	Fields []domain.PromptField `json:"fields,omitempty"`

	// consent
	Scopes []string `json:"scopes,omitempty"`

	// redirect
	To string `json:"to,omitempty"`

	// access_denied
	Message string `json:"message,omitempty"`
}

// FlowInfo is the static flow header shown with every executor response.
type FlowInfo struct {
	Slug        string                 `json:"slug"`
	Title       string                 `json:"title"`
	Designation domain.FlowDesignation `json:"designation"`
}

// Data is the executor's response envelope. FieldError and Error report
// retryable input problems; the cursor has not moved when either is set.
type Data struct {
	ExecutionID string    `json:"execution_id"`
	Flow        FlowInfo  `json:"flow"`
	Component   Component `json:"component"`

	// PendingUser is the display name established by identification.
	PendingUser string                   `json:"pending_user,omitempty"`
	FieldError  *serrors.ValidationError `json:"field_error,omitempty"`
	Error       string                   `json:"error,omitempty"`

	// SessionID is set when a user_login stage created a browser session.
	// The transport turns it into a cookie; it is never serialized.
	SessionID string `json:"-"`
}
