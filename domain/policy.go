package domain

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PolicyKind discriminates the decision function of a policy.
type PolicyKind string

const (
	PolicyKindPasswordExpiry   PolicyKind = "password_expiry"
	PolicyKindPasswordStrength PolicyKind = "password_strength"
	PolicyKindExpression       PolicyKind = "expression"
)

// PolicyConfig is the kind-specific configuration record of a policy.
type PolicyConfig interface {
	policyConfig()
}

// PasswordExpiryConfig fails users whose password is older than MaxAgeSeconds.
type PasswordExpiryConfig struct {
	MaxAgeSeconds int64 `bson:"max_age_seconds"`
}

// PasswordStrengthConfig holds the deterministic complexity threshold.
type PasswordStrengthConfig struct {
	MinLength  int `bson:"min_length"`
	MinClasses int `bson:"min_classes"` // character classes: lower, upper, digit, symbol
}

// ExpressionConfig carries the restricted boolean expression source.
type ExpressionConfig struct {
	Source string `bson:"source"`
}

func (PasswordExpiryConfig) policyConfig()   {}
func (PasswordStrengthConfig) policyConfig() {}
func (ExpressionConfig) policyConfig()       {}

// Policy is a dynamically evaluated gate with exactly one kind-specific
// config record.
type Policy struct {
	ID     string       `bson:"_id,omitempty"`
	Slug   string       `bson:"slug"`
	Kind   PolicyKind   `bson:"kind"`
	Config PolicyConfig `bson:"config"`
}

type rawPolicy struct {
	ID     string     `bson:"_id,omitempty"`
	Slug   string     `bson:"slug"`
	Kind   PolicyKind `bson:"kind"`
	Config bson.Raw   `bson:"config"`
}

// UnmarshalBSON decodes the tagged policy document, selecting the config
// variant that matches the policy kind.
func (p *Policy) UnmarshalBSON(data []byte) error {
	var raw rawPolicy
	if err := bson.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.ID = raw.ID
	p.Slug = raw.Slug
	p.Kind = raw.Kind
	var cfg PolicyConfig
	switch raw.Kind {
	case PolicyKindPasswordExpiry:
		cfg = &PasswordExpiryConfig{}
	case PolicyKindPasswordStrength:
		cfg = &PasswordStrengthConfig{}
	case PolicyKindExpression:
		cfg = &ExpressionConfig{}
	default:
		return fmt.Errorf("unknown policy kind %q", raw.Kind)
	}
	if len(raw.Config) > 0 {
		if err := bson.Unmarshal(raw.Config, cfg); err != nil {
			return fmt.Errorf("decode %s policy config: %w", raw.Kind, err)
		}
	}
	p.Config = cfg
	return nil
}
