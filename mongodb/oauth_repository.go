package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// OAuthRepository stores applications, OAuth sessions and issued tokens.
type OAuthRepository struct {
	applications  *mongo.Collection
	groups        *mongo.Collection
	sessions      *mongo.Collection
	refreshTokens *mongo.Collection
	accessTokens  *mongo.Collection
}

// NewOAuthRepository creates the repository and ensures its indexes.
func NewOAuthRepository(ctx context.Context, db *mongo.Database) (domain.OAuthRepository, error) {
	repo := &OAuthRepository{
		applications:  db.Collection(ApplicationsCollection),
		groups:        db.Collection(AppGroupsCollection),
		sessions:      db.Collection(OAuthSessionsCollection),
		refreshTokens: db.Collection(RefreshTokensCollection),
		accessTokens:  db.Collection(AccessTokensCollection),
	}

	if _, err := repo.applications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("failed to create application indexes: %w", err)
	}
	if _, err := repo.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("failed to create oauth session indexes: %w", err)
	}
	if _, err := repo.refreshTokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// Uniqueness of the opaque value is what makes the rotation
			// check-and-set race free.
			Keys:    bson.D{{Key: "value", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create refresh token indexes: %w", err)
	}
	if _, err := repo.accessTokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}},
	}); err != nil {
		return nil, fmt.Errorf("failed to create access token indexes: %w", err)
	}
	return repo, nil
}

func (r *OAuthRepository) GetApplicationByClientID(ctx context.Context, clientID string) (*domain.Application, error) {
	var app domain.Application
	err := r.applications.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&app)
	if err != nil {
		return nil, wrapErr("GetApplicationByClientID", err)
	}
	return &app, nil
}

func (r *OAuthRepository) GetApplicationGroup(ctx context.Context, id string) (*domain.ApplicationGroup, error) {
	var group domain.ApplicationGroup
	err := r.groups.FindOne(ctx, bson.M{"_id": id}).Decode(&group)
	if err != nil {
		return nil, wrapErr("GetApplicationGroup", err)
	}
	return &group, nil
}

// UpsertOAuthSession creates or refreshes the user's grant toward an
// application, keyed by (user, client).
func (r *OAuthRepository) UpsertOAuthSession(ctx context.Context, session *domain.OAuthSession) (*domain.OAuthSession, error) {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	filter := bson.M{"user_id": session.UserID, "client_id": session.ClientID}
	update := bson.M{
		"$set": bson.M{
			"session_id": session.SessionID,
			"scopes":     session.Scopes,
			"updated_at": now,
			"is_revoked": false,
		},
		"$setOnInsert": bson.M{
			"_id":        session.ID,
			"user_id":    session.UserID,
			"client_id":  session.ClientID,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var updated domain.OAuthSession
	if err := r.sessions.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		return nil, wrapErr("UpsertOAuthSession", err)
	}
	return &updated, nil
}

func (r *OAuthRepository) GetOAuthSession(ctx context.Context, id string) (*domain.OAuthSession, error) {
	var session domain.OAuthSession
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		return nil, wrapErr("GetOAuthSession", err)
	}
	return &session, nil
}

func (r *OAuthRepository) GetOAuthSessionByUserClient(ctx context.Context, userID, clientID string) (*domain.OAuthSession, error) {
	var session domain.OAuthSession
	err := r.sessions.FindOne(ctx, bson.M{"user_id": userID, "client_id": clientID}).Decode(&session)
	if err != nil {
		return nil, wrapErr("GetOAuthSessionByUserClient", err)
	}
	return &session, nil
}

func (r *OAuthRepository) RevokeOAuthSession(ctx context.Context, id string) error {
	_, err := r.sessions.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"is_revoked": true}})
	return wrapErr("RevokeOAuthSession", err)
}

func (r *OAuthRepository) StoreAccessToken(ctx context.Context, token *domain.AccessToken) error {
	_, err := r.accessTokens.InsertOne(ctx, token)
	return wrapErr("StoreAccessToken", err)
}

func (r *OAuthRepository) StoreRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	_, err := r.refreshTokens.InsertOne(ctx, token)
	return wrapErr("StoreRefreshToken", err)
}

func (r *OAuthRepository) GetAccessToken(ctx context.Context, id string) (*domain.AccessToken, error) {
	var token domain.AccessToken
	err := r.accessTokens.FindOne(ctx, bson.M{"_id": id}).Decode(&token)
	if err != nil {
		return nil, wrapErr("GetAccessToken", err)
	}
	return &token, nil
}

// ConsumeRefreshToken atomically flips the used flag of an unused,
// unexpired refresh token. Two concurrent calls can never both observe
// the token as unused: the conditional FindOneAndUpdate commits the check
// and the set as one operation.
func (r *OAuthRepository) ConsumeRefreshToken(ctx context.Context, value string) (*domain.RefreshToken, error) {
	filter := bson.M{
		"value":      value,
		"used":       false,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
	update := bson.M{"$set": bson.M{"used": true}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var token domain.RefreshToken
	err := r.refreshTokens.FindOneAndUpdate(ctx, filter, update, opts).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, serrors.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("ConsumeRefreshToken", err)
	}
	return &token, nil
}

func (r *OAuthRepository) GetRefreshTokenByValue(ctx context.Context, value string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	err := r.refreshTokens.FindOne(ctx, bson.M{"value": value}).Decode(&token)
	if err != nil {
		return nil, wrapErr("GetRefreshTokenByValue", err)
	}
	return &token, nil
}

// RevokeSessionTokens revokes every access token of an OAuth session and
// burns its outstanding refresh tokens.
func (r *OAuthRepository) RevokeSessionTokens(ctx context.Context, sessionID string) error {
	if _, err := r.accessTokens.UpdateMany(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"is_revoked": true}}); err != nil {
		return wrapErr("RevokeSessionTokens", err)
	}
	_, err := r.refreshTokens.UpdateMany(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"used": true}})
	return wrapErr("RevokeSessionTokens", err)
}
