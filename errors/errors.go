package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services. Client-visible authentication
// failures always collapse to ErrInvalidCredentials so a missing user and
// a wrong password are indistinguishable.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthRequired       = errors.New("authentication required")
	ErrFlowExpired        = errors.New("flow execution expired")
	ErrConflict           = errors.New("concurrent submission in flight")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenMalformed     = errors.New("token malformed")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrSessionRevoked     = errors.New("session revoked")
)

// ValidationError is a field-scoped input error returned inline to the
// client.
type ValidationError struct {
	Field string `json:"field"`
	Kind  string `json:"kind"` // invalid, invalid_type, missing
	Hint  string `json:"hint,omitempty"`
}

const (
	FieldInvalid     = "invalid"
	FieldInvalidType = "invalid_type"
	FieldMissing     = "missing"
)

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Kind)
}

func NewFieldMissing(field string) *ValidationError {
	return &ValidationError{Field: field, Kind: FieldMissing}
}

func NewFieldInvalid(field, hint string) *ValidationError {
	return &ValidationError{Field: field, Kind: FieldInvalid, Hint: hint}
}

func NewFieldInvalidType(field string) *ValidationError {
	return &ValidationError{Field: field, Kind: FieldInvalidType}
}

// PolicyDeniedError halts flow progression. The client-visible message is
// always generic; Internal carries the detail for audit logging only.
type PolicyDeniedError struct {
	Internal string
}

func (e *PolicyDeniedError) Error() string {
	return "access denied"
}

// StorageError wraps an unexpected storage failure with a correlation id.
// The underlying cause is logged, never surfaced.
type StorageError struct {
	CorrelationID string
	Err           error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("internal error (ref %s)", e.CorrelationID)
}

func (e *StorageError) Unwrap() error { return e.Err }
