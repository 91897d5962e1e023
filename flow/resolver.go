package flow

import (
	"context"
	"errors"

	"github.com/gatehouse-id/gatehouse/domain"
	serrors "github.com/gatehouse-id/gatehouse/errors"
)

// Resolver maps hosts and designations to flows and gates access to them.
type Resolver struct {
	flows   domain.FlowRepository
	tenants domain.TenantRepository
}

// NewResolver creates a flow resolver.
func NewResolver(flows domain.FlowRepository, tenants domain.TenantRepository) *Resolver {
	return &Resolver{flows: flows, tenants: tenants}
}

// Tenant returns the tenant serving the given host, falling back to the
// default tenant when the host has none of its own.
func (r *Resolver) Tenant(ctx context.Context, host string) (*domain.Tenant, error) {
	tenant, err := r.tenants.GetTenantByHost(ctx, host)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, serrors.ErrNotFound) {
		return nil, err
	}
	return r.tenants.GetDefaultTenant(ctx)
}

// BySlug resolves a flow by slug and checks the caller against its
// authentication requirement.
func (r *Resolver) BySlug(ctx context.Context, slug string, caller *domain.User) (*domain.Flow, error) {
	flow, err := r.flows.GetFlowBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if err := CheckAccess(flow, caller); err != nil {
		return nil, err
	}
	return flow, nil
}

// ForDesignation resolves the host's flow for a designation via its
// tenant configuration.
func (r *Resolver) ForDesignation(ctx context.Context, host string, designation domain.FlowDesignation, caller *domain.User) (*domain.Flow, error) {
	tenant, err := r.Tenant(ctx, host)
	if err != nil {
		return nil, err
	}
	slug := tenant.FlowSlug(designation)
	if slug == "" {
		return nil, serrors.ErrNotFound
	}
	return r.BySlug(ctx, slug, caller)
}

// CheckAccess enforces a flow's authentication requirement. "none" admits
// only unauthenticated callers, which keeps login flows away from users
// who already hold a session.
func CheckAccess(flow *domain.Flow, caller *domain.User) error {
	switch flow.Authentication {
	case domain.AuthenticationRequired:
		if caller == nil {
			return serrors.ErrAuthRequired
		}
	case domain.AuthenticationSuperuser:
		if caller == nil {
			return serrors.ErrAuthRequired
		}
		if !caller.IsAdmin {
			return &serrors.PolicyDeniedError{Internal: "flow requires a superuser"}
		}
	case domain.AuthenticationNone:
		if caller != nil {
			return &serrors.PolicyDeniedError{Internal: "flow admits only unauthenticated users"}
		}
	case domain.AuthenticationIgnored:
	}
	return nil
}
