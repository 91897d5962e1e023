package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/domain"
)

func exprContext() *Context {
	return &Context{
		Now:           time.Now(),
		FlowSlug:      "default-authentication",
		Designation:   domain.FlowDesignationAuthentication,
		Pending:       true,
		Authenticated: false,
		User: &domain.User{
			ID:      "u-1",
			Name:    "admin",
			Email:   "admin@example.com",
			IsAdmin: true,
		},
		Fields: map[string]string{"department": "ops"},
	}
}

func TestEvalExpression(t *testing.T) {
	ctx := exprContext()

	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{"literal true", "true", true},
		{"literal false", "false", false},
		{"negation", "!false", true},
		{"string equality", `user.name == 'admin'`, true},
		{"string inequality", `user.name != 'admin'`, false},
		{"bool variable", "pending", true},
		{"and", "pending && user.is_admin", true},
		{"and false", "pending && authenticated", false},
		{"or", "authenticated || user.is_admin", true},
		{"grouping", "!(pending && authenticated)", true},
		{"int comparison", "10 < 20", true},
		{"int ge", "20 >= 20", true},
		{"string ordering", `'abc' < 'abd'`, true},
		{"enum value", `flow.designation == 'authentication'`, true},
		{"prompt field", `field.department == 'ops'`, true},
		{"missing field defaults empty", `field.missing == ''`, true},
		{"double quotes", `user.email == "admin@example.com"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalExpression(tt.source, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalExpressionErrors(t *testing.T) {
	ctx := exprContext()

	tests := []struct {
		name   string
		source string
	}{
		{"unknown variable", "nonexistent"},
		{"non boolean result", "42"},
		{"type mismatch", `user.name == 42`},
		{"unterminated string", `user.name == 'admin`},
		{"trailing garbage", "true true"},
		{"single ampersand", "true & false"},
		{"single equals", "user.name = 'admin'"},
		{"not on string", `!'abc'`},
		{"ordering on bool", "true < false"},
		{"unclosed paren", "(true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvalExpression(tt.source, ctx)
			assert.Error(t, err)
		})
	}
}

func TestEvalExpressionSourceCap(t *testing.T) {
	ctx := exprContext()
	src := "true" + strings.Repeat(" ", maxExprLen)
	_, err := EvalExpression(src, ctx)
	assert.ErrorIs(t, err, errSourceTooBig)
}

func TestEvalExpressionStepBudget(t *testing.T) {
	ctx := exprContext()
	// A negation chain long enough to exhaust the budget while staying
	// under the source length cap. Every node costs one step.
	src := strings.Repeat("!", maxEvalSteps+1) + "true"
	_, err := EvalExpression(src, ctx)
	assert.ErrorIs(t, err, errStepBudget)
}

func TestEvalExpressionNilUser(t *testing.T) {
	ctx := exprContext()
	ctx.User = nil

	got, err := EvalExpression(`user.name == ''`, ctx)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = EvalExpression("user.is_admin", ctx)
	require.NoError(t, err)
	assert.False(t, got)
}
