package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gatehouse-id/gatehouse/domain"
)

// FlowRepository resolves flow, stage and policy documents. Flows embed
// their ordered entries; stages and policies live in their own collections
// as tagged-variant documents.
type FlowRepository struct {
	flows    *mongo.Collection
	stages   *mongo.Collection
	policies *mongo.Collection
}

// NewFlowRepository creates the repository and ensures its indexes.
func NewFlowRepository(ctx context.Context, db *mongo.Database) (domain.FlowRepository, error) {
	repo := &FlowRepository{
		flows:    db.Collection(FlowsCollection),
		stages:   db.Collection(StagesCollection),
		policies: db.Collection(PoliciesCollection),
	}
	unique := options.Index().SetUnique(true)
	slugKeys := bson.D{{Key: "slug", Value: 1}}
	for name, coll := range map[string]*mongo.Collection{
		"flows":    repo.flows,
		"stages":   repo.stages,
		"policies": repo.policies,
	} {
		if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: slugKeys, Options: unique}); err != nil {
			return nil, fmt.Errorf("failed to create %s slug index: %w", name, err)
		}
	}
	return repo, nil
}

func (r *FlowRepository) GetFlowBySlug(ctx context.Context, slug string) (*domain.Flow, error) {
	var flow domain.Flow
	err := r.flows.FindOne(ctx, bson.M{"slug": slug}).Decode(&flow)
	if err != nil {
		return nil, wrapErr("GetFlowBySlug", err)
	}
	return &flow, nil
}

func (r *FlowRepository) GetStageBySlug(ctx context.Context, slug string) (*domain.Stage, error) {
	var stage domain.Stage
	err := r.stages.FindOne(ctx, bson.M{"slug": slug}).Decode(&stage)
	if err != nil {
		return nil, wrapErr("GetStageBySlug", err)
	}
	return &stage, nil
}

func (r *FlowRepository) GetStagesBySlugs(ctx context.Context, slugs []string) (map[string]*domain.Stage, error) {
	cursor, err := r.stages.Find(ctx, bson.M{"slug": bson.M{"$in": slugs}})
	if err != nil {
		return nil, wrapErr("GetStagesBySlugs", err)
	}
	defer cursor.Close(ctx)

	stages := make(map[string]*domain.Stage, len(slugs))
	for cursor.Next(ctx) {
		var stage domain.Stage
		if err := cursor.Decode(&stage); err != nil {
			return nil, wrapErr("GetStagesBySlugs", err)
		}
		stages[stage.Slug] = &stage
	}
	if err := cursor.Err(); err != nil {
		return nil, wrapErr("GetStagesBySlugs", err)
	}
	return stages, nil
}

func (r *FlowRepository) GetPolicyBySlug(ctx context.Context, slug string) (*domain.Policy, error) {
	var policy domain.Policy
	err := r.policies.FindOne(ctx, bson.M{"slug": slug}).Decode(&policy)
	if err != nil {
		return nil, wrapErr("GetPolicyBySlug", err)
	}
	return &policy, nil
}
