package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gatehouse-id/gatehouse/domain"
)

// ConsentRepository stores per-user-per-application consents.
type ConsentRepository struct {
	coll *mongo.Collection
}

// NewConsentRepository creates the repository and ensures its indexes.
func NewConsentRepository(ctx context.Context, db *mongo.Database) (domain.ConsentRepository, error) {
	repo := &ConsentRepository{coll: db.Collection(ConsentsCollection)}
	_, err := repo.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consent indexes: %w", err)
	}
	return repo, nil
}

func (r *ConsentRepository) GetConsent(ctx context.Context, userID, clientID string) (*domain.Consent, error) {
	var consent domain.Consent
	err := r.coll.FindOne(ctx, bson.M{"user_id": userID, "client_id": clientID}).Decode(&consent)
	if err != nil {
		return nil, wrapErr("GetConsent", err)
	}
	return &consent, nil
}

func (r *ConsentRepository) UpsertConsent(ctx context.Context, consent *domain.Consent) error {
	now := time.Now().UTC()
	if consent.ID == "" {
		consent.ID = uuid.NewString()
	}
	filter := bson.M{"user_id": consent.UserID, "client_id": consent.ClientID}
	set := bson.M{
		"scopes":     consent.Scopes,
		"given":      consent.Given,
		"implicit":   consent.Implicit,
		"mode":       consent.Mode,
		"updated_at": now,
	}
	if consent.ExpiresAt != nil {
		set["expires_at"] = consent.ExpiresAt.UTC()
	}
	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"_id":        consent.ID,
			"user_id":    consent.UserID,
			"client_id":  consent.ClientID,
			"created_at": now,
		},
	}
	_, err := r.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return wrapErr("UpsertConsent", err)
}

func (r *ConsentRepository) RevokeConsent(ctx context.Context, userID, clientID string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"user_id": userID, "client_id": clientID},
		bson.M{"$set": bson.M{"given": false, "updated_at": time.Now().UTC()}})
	return wrapErr("RevokeConsent", err)
}
