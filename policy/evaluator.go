// Package policy implements the policy evaluator: a pure decision
// function over policy configuration and an execution context snapshot.
// Evaluation is stateless and safe to call concurrently.
package policy

import (
	"fmt"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/gatehouse-id/gatehouse/domain"
)

// Decision is the outcome of evaluating one policy or one aggregated
// binding set. Message is internal detail for audit logging; it is never
// surfaced to clients.
type Decision struct {
	Pass    bool
	Message string
}

// Context is the whitelisted view of a flow execution that policies may
// inspect. A nil User means no user has been identified yet.
type Context struct {
	Now           time.Time
	FlowSlug      string
	Designation   domain.FlowDesignation
	User          *domain.User
	Pending       bool
	Authenticated bool
	// Fields holds collected prompt answers, exposed to expressions as
	// field.<name>.
	Fields map[string]string
	// Password is the candidate password for strength checks. Transient,
	// never persisted.
	Password string
}

// Evaluate runs a single policy against the context.
func Evaluate(p *domain.Policy, ctx *Context) Decision {
	switch cfg := p.Config.(type) {
	case *domain.PasswordExpiryConfig:
		return evaluatePasswordExpiry(cfg, ctx)
	case *domain.PasswordStrengthConfig:
		return evaluatePasswordStrength(cfg, ctx)
	case *domain.ExpressionConfig:
		return evaluateExpression(cfg, ctx)
	default:
		return Decision{Pass: false, Message: fmt.Sprintf("policy %s has no config", p.Slug)}
	}
}

func evaluatePasswordExpiry(cfg *domain.PasswordExpiryConfig, ctx *Context) Decision {
	if ctx.User == nil || ctx.User.PasswordChangedAt.IsZero() {
		// Not applicable without a resolved user.
		return Decision{Pass: true}
	}
	age := ctx.Now.Sub(ctx.User.PasswordChangedAt)
	if age > time.Duration(cfg.MaxAgeSeconds)*time.Second {
		return Decision{Pass: false, Message: fmt.Sprintf("password age %s exceeds max %ds", age, cfg.MaxAgeSeconds)}
	}
	return Decision{Pass: true}
}

func evaluatePasswordStrength(cfg *domain.PasswordStrengthConfig, ctx *Context) Decision {
	if ctx.Password == "" {
		return Decision{Pass: true}
	}
	minLength := cfg.MinLength
	if minLength <= 0 {
		minLength = 8
	}
	minClasses := cfg.MinClasses
	if minClasses <= 0 {
		minClasses = 3
	}
	if len(ctx.Password) < minLength {
		return Decision{Pass: false, Message: fmt.Sprintf("password shorter than %d characters", minLength)}
	}
	var lower, upper, digit, symbol bool
	for _, r := range ctx.Password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < minClasses {
		return Decision{Pass: false, Message: fmt.Sprintf("password uses %d of %d required character classes", classes, minClasses)}
	}
	return Decision{Pass: true}
}

func evaluateExpression(cfg *domain.ExpressionConfig, ctx *Context) Decision {
	result, err := EvalExpression(cfg.Source, ctx)
	if err != nil {
		// Fail closed on any compilation or runtime error.
		return Decision{Pass: false, Message: fmt.Sprintf("expression error: %v", err)}
	}
	return Decision{Pass: result}
}

// PolicyLookup resolves a policy slug from the execution's configuration
// snapshot.
type PolicyLookup func(slug string) (*domain.Policy, bool)

// EvaluateBindings aggregates the decisions of all enabled bindings on one
// target: logical AND after per-binding negation, first failure wins.
// User and group bindings match the context's user directly. The returned
// failure message is internal; callers surface only the generic denial.
func EvaluateBindings(bindings []domain.FlowBinding, lookup PolicyLookup, ctx *Context) Decision {
	for _, binding := range bindings {
		if !binding.Enabled {
			continue
		}
		decision := evaluateBinding(&binding, lookup, ctx)
		if binding.Negate {
			decision.Pass = !decision.Pass
		}
		if !decision.Pass {
			log.Debug().
				Str("binding_kind", string(binding.Kind)).
				Str("policy", binding.PolicySlug).
				Str("detail", decision.Message).
				Msg("policy binding denied")
			return decision
		}
	}
	return Decision{Pass: true}
}

func evaluateBinding(binding *domain.FlowBinding, lookup PolicyLookup, ctx *Context) Decision {
	switch binding.Kind {
	case domain.BindingKindPolicy:
		p, ok := lookup(binding.PolicySlug)
		if !ok {
			return Decision{Pass: false, Message: fmt.Sprintf("policy %s not in snapshot", binding.PolicySlug)}
		}
		return Evaluate(p, ctx)
	case domain.BindingKindUser:
		if ctx.User != nil && ctx.User.ID == binding.UserID {
			return Decision{Pass: true}
		}
		return Decision{Pass: false, Message: "user binding did not match"}
	case domain.BindingKindGroup:
		if ctx.User != nil {
			for _, g := range ctx.User.GroupIDs {
				if g == binding.GroupID {
					return Decision{Pass: true}
				}
			}
		}
		return Decision{Pass: false, Message: "group binding did not match"}
	default:
		return Decision{Pass: false, Message: fmt.Sprintf("unknown binding kind %q", binding.Kind)}
	}
}
