package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/gatehouse-id/gatehouse/domain"
)

// TenantRepository resolves tenants by host.
type TenantRepository struct {
	coll *mongo.Collection
}

// NewTenantRepository creates the repository and ensures its indexes.
func NewTenantRepository(ctx context.Context, db *mongo.Database) (domain.TenantRepository, error) {
	repo := &TenantRepository{coll: db.Collection(TenantsCollection)}
	_, err := repo.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "host", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant indexes: %w", err)
	}
	return repo, nil
}

func (r *TenantRepository) GetTenantByHost(ctx context.Context, host string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.coll.FindOne(ctx, bson.M{"host": host}).Decode(&tenant)
	if err != nil {
		return nil, wrapErr("GetTenantByHost", err)
	}
	return &tenant, nil
}

func (r *TenantRepository) GetDefaultTenant(ctx context.Context) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := r.coll.FindOne(ctx, bson.M{"default": true}).Decode(&tenant)
	if err != nil {
		return nil, wrapErr("GetDefaultTenant", err)
	}
	return &tenant, nil
}
