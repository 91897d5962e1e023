package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// SessionRepository stores browser sessions in MongoDB.
type SessionRepository struct {
	coll *mongo.Collection
}

// NewSessionRepository creates the repository and ensures its indexes.
func NewSessionRepository(ctx context.Context, db *mongo.Database) (domain.SessionRepository, error) {
	repo := &SessionRepository{coll: db.Collection(SessionsCollection)}

	_, err := repo.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{
			// Let Mongo sweep sessions well past their expiry. Reads
			// still check expires_at; the TTL index is only cleanup.
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(24 * 3600),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session indexes: %w", err)
	}
	return repo, nil
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := r.coll.InsertOne(ctx, session)
	return wrapErr("CreateSession", err)
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		return nil, wrapErr("GetSessionByID", err)
	}
	return &session, nil
}

func (r *SessionRepository) GetUserSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID, "is_revoked": bson.M{"$ne": true}})
	if err != nil {
		return nil, wrapErr("GetUserSessions", err)
	}
	var sessions []*domain.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, wrapErr("GetUserSessions", err)
	}
	return sessions, nil
}

func (r *SessionRepository) RevokeSession(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_revoked": true}})
	return wrapErr("RevokeSession", err)
}

func (r *SessionRepository) RevokeUserSessions(ctx context.Context, userID string) error {
	_, err := r.coll.UpdateMany(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{"is_revoked": true}})
	return wrapErr("RevokeUserSessions", err)
}

func (r *SessionRepository) ExtendSession(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "is_revoked": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"expires_at": expiresAt.UTC()}})
	if err != nil {
		return wrapErr("ExtendSession", err)
	}
	if res.MatchedCount == 0 {
		// The session vanished or was revoked after the caller read it.
		return serrors.ErrNotFound
	}
	return nil
}
