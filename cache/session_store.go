package cache

import (
	"context"
	"errors"

	"github.com/gatehouse-id/gatehouse/domain"
)

// ErrNotCached is returned when the session is not in the cache. Callers
// fall through to the repository.
var ErrNotCached = errors.New("session not cached")

// SessionStore is the read-path cache in front of the session repository.
// Delete must complete before the backing record is revoked so reads never
// observe a just-revoked session.
type SessionStore interface {
	Set(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
}
