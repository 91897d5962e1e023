package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gatehouse-id/gatehouse/domain"
)

func TestEvaluatePasswordExpiry(t *testing.T) {
	now := time.Now()
	p := &domain.Policy{
		Slug:   "expiry-30d",
		Kind:   domain.PolicyKindPasswordExpiry,
		Config: &domain.PasswordExpiryConfig{MaxAgeSeconds: 30 * 24 * 3600},
	}

	t.Run("fresh password passes", func(t *testing.T) {
		ctx := &Context{Now: now, User: &domain.User{PasswordChangedAt: now.Add(-time.Hour)}}
		assert.True(t, Evaluate(p, ctx).Pass)
	})

	t.Run("stale password fails", func(t *testing.T) {
		ctx := &Context{Now: now, User: &domain.User{PasswordChangedAt: now.Add(-31 * 24 * time.Hour)}}
		assert.False(t, Evaluate(p, ctx).Pass)
	})

	t.Run("no user is not applicable", func(t *testing.T) {
		ctx := &Context{Now: now}
		assert.True(t, Evaluate(p, ctx).Pass)
	})
}

func TestEvaluatePasswordStrength(t *testing.T) {
	p := &domain.Policy{
		Slug:   "strength-default",
		Kind:   domain.PolicyKindPasswordStrength,
		Config: &domain.PasswordStrengthConfig{MinLength: 10, MinClasses: 3},
	}

	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"no candidate password", "", true},
		{"too short", "Ab1!", false},
		{"long but one class", "aaaaaaaaaaaa", false},
		{"meets threshold", "Str0ngPass!", true},
		{"two classes only", "abcdefgh1234", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &Context{Now: time.Now(), Password: tt.password}
			assert.Equal(t, tt.want, Evaluate(p, ctx).Pass, "password %q", tt.password)
		})
	}
}

func bindingFixture() ([]domain.FlowBinding, PolicyLookup, *Context) {
	truePolicy := &domain.Policy{
		Slug:   "always-true",
		Kind:   domain.PolicyKindExpression,
		Config: &domain.ExpressionConfig{Source: "true"},
	}
	falsePolicy := &domain.Policy{
		Slug:   "always-false",
		Kind:   domain.PolicyKindExpression,
		Config: &domain.ExpressionConfig{Source: "false"},
	}
	lookup := func(slug string) (*domain.Policy, bool) {
		switch slug {
		case "always-true":
			return truePolicy, true
		case "always-false":
			return falsePolicy, true
		}
		return nil, false
	}
	bindings := []domain.FlowBinding{
		{Kind: domain.BindingKindPolicy, PolicySlug: "always-true", Enabled: true, Ordering: 0},
	}
	ctx := &Context{Now: time.Now(), User: &domain.User{ID: "u-1", GroupIDs: []string{"g-1"}}}
	return bindings, lookup, ctx
}

func TestEvaluateBindings(t *testing.T) {
	t.Run("all pass", func(t *testing.T) {
		bindings, lookup, ctx := bindingFixture()
		assert.True(t, EvaluateBindings(bindings, lookup, ctx).Pass)
	})

	t.Run("failing binding halts", func(t *testing.T) {
		bindings, lookup, ctx := bindingFixture()
		bindings = append(bindings, domain.FlowBinding{
			Kind: domain.BindingKindPolicy, PolicySlug: "always-false", Enabled: true, Ordering: 1,
		})
		assert.False(t, EvaluateBindings(bindings, lookup, ctx).Pass)
	})

	t.Run("disabled binding skipped", func(t *testing.T) {
		bindings, lookup, ctx := bindingFixture()
		bindings = append(bindings, domain.FlowBinding{
			Kind: domain.BindingKindPolicy, PolicySlug: "always-false", Enabled: false, Ordering: 1,
		})
		assert.True(t, EvaluateBindings(bindings, lookup, ctx).Pass)
	})

	t.Run("unknown policy fails closed", func(t *testing.T) {
		bindings, lookup, ctx := bindingFixture()
		bindings[0].PolicySlug = "missing"
		assert.False(t, EvaluateBindings(bindings, lookup, ctx).Pass)
	})

	t.Run("user binding matches", func(t *testing.T) {
		_, lookup, ctx := bindingFixture()
		bindings := []domain.FlowBinding{
			{Kind: domain.BindingKindUser, UserID: "u-1", Enabled: true},
		}
		assert.True(t, EvaluateBindings(bindings, lookup, ctx).Pass)
		bindings[0].UserID = "u-2"
		assert.False(t, EvaluateBindings(bindings, lookup, ctx).Pass)
	})

	t.Run("group binding matches", func(t *testing.T) {
		_, lookup, ctx := bindingFixture()
		bindings := []domain.FlowBinding{
			{Kind: domain.BindingKindGroup, GroupID: "g-1", Enabled: true},
		}
		assert.True(t, EvaluateBindings(bindings, lookup, ctx).Pass)
		bindings[0].GroupID = "g-2"
		assert.False(t, EvaluateBindings(bindings, lookup, ctx).Pass)
	})
}

// The aggregate with negate=true must be the exact inverse of the same
// binding with negate=false, for every policy outcome.
func TestNegateInvertsDecision(t *testing.T) {
	_, lookup, ctx := bindingFixture()
	for _, slug := range []string{"always-true", "always-false"} {
		binding := domain.FlowBinding{
			Kind: domain.BindingKindPolicy, PolicySlug: slug, Enabled: true,
		}
		plain := EvaluateBindings([]domain.FlowBinding{binding}, lookup, ctx)
		binding.Negate = true
		negated := EvaluateBindings([]domain.FlowBinding{binding}, lookup, ctx)
		assert.Equal(t, plain.Pass, !negated.Pass, "policy %s", slug)
	}
}
