package mongodb

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"

	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// wrapErr maps driver errors into the application taxonomy. A missing
// document becomes ErrNotFound; anything else is logged under a fresh
// correlation id and wrapped so internals never leak to the client.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return serrors.ErrNotFound
	}
	correlationID := uuid.NewString()
	log.Error().Err(err).Str("op", op).Str("correlation_id", correlationID).Msg("storage operation failed")
	return &serrors.StorageError{CorrelationID: correlationID, Err: err}
}
