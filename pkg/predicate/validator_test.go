package predicate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/decivue/core/pkg/contracts"
)

func testDoc() Document {
	return Document{
		"params": map[string]any{
			"budget": map[string]any{
				"annual":   float64(250000),
				"currency": "EUR",
			},
			"vendor":  "acme",
			"tier":    "gold",
			"version": "1.4.2",
			"region":  "eu-west-1",
		},
		"meta": map[string]any{
			"title":    "Vendor selection",
			"category": "procurement",
		},
	}
}

func TestValidatorPredicateOps(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name           string
		rule           contracts.ValidationRule
		wantViolations int
	}{
		{
			name: "lte passes",
			rule: contracts.ValidationRule{Path: "params.budget.annual", Op: contracts.OpLTE, Value: 300000},
		},
		{
			name:           "lte fails",
			rule:           contracts.ValidationRule{Path: "params.budget.annual", Op: contracts.OpLTE, Value: 200000},
			wantViolations: 1,
		},
		{
			name: "gte passes",
			rule: contracts.ValidationRule{Path: "params.budget.annual", Op: contracts.OpGTE, Value: 100000},
		},
		{
			name: "eq on string passes",
			rule: contracts.ValidationRule{Path: "params.vendor", Op: contracts.OpEQ, Value: "acme"},
		},
		{
			name:           "eq on string fails",
			rule:           contracts.ValidationRule{Path: "params.vendor", Op: contracts.OpEQ, Value: "globex"},
			wantViolations: 1,
		},
		{
			name: "eq numeric coercion int vs float",
			rule: contracts.ValidationRule{Path: "params.budget.annual", Op: contracts.OpEQ, Value: 250000},
		},
		{
			name:           "neq fails on equal values",
			rule:           contracts.ValidationRule{Path: "params.tier", Op: contracts.OpNEQ, Value: "gold"},
			wantViolations: 1,
		},
		{
			name: "in passes",
			rule: contracts.ValidationRule{Path: "params.region", Op: contracts.OpIn, Values: []any{"eu-west-1", "eu-central-1"}},
		},
		{
			name:           "in fails",
			rule:           contracts.ValidationRule{Path: "params.region", Op: contracts.OpIn, Values: []any{"us-east-1"}},
			wantViolations: 1,
		},
		{
			name: "between passes inclusive",
			rule: contracts.ValidationRule{Path: "params.budget.annual", Op: contracts.OpBetween, Min: 250000, Max: 500000},
		},
		{
			name:           "between fails below",
			rule:           contracts.ValidationRule{Path: "params.budget.annual", Op: contracts.OpBetween, Min: 300000, Max: 500000},
			wantViolations: 1,
		},
		{
			name: "matches passes",
			rule: contracts.ValidationRule{Path: "params.region", Op: contracts.OpMatches, Pattern: `^eu-`},
		},
		{
			name:           "matches fails",
			rule:           contracts.ValidationRule{Path: "params.region", Op: contracts.OpMatches, Pattern: `^us-`},
			wantViolations: 1,
		},
		{
			name: "semver in range",
			rule: contracts.ValidationRule{Path: "params.version", Op: contracts.OpSemver, Range: ">=1.0.0 <2.0.0"},
		},
		{
			name:           "semver outside range",
			rule:           contracts.ValidationRule{Path: "params.version", Op: contracts.OpSemver, Range: ">=2.0.0"},
			wantViolations: 1,
		},
		{
			name:           "missing path is a violation",
			rule:           contracts.ValidationRule{Path: "params.nonexistent.key", Op: contracts.OpEQ, Value: 1},
			wantViolations: 1,
		},
		{
			name:           "unknown operator is a violation",
			rule:           contracts.ValidationRule{Path: "params.vendor", Op: "~="},
			wantViolations: 1,
		},
		{
			name:           "non-numeric value for lte is a violation",
			rule:           contracts.ValidationRule{Path: "params.vendor", Op: contracts.OpLTE, Value: 10},
			wantViolations: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := &contracts.ValidationConfig{Rules: []contracts.ValidationRule{tc.rule}}
			violations := v.Evaluate(config, testDoc())
			require.Len(t, violations, tc.wantViolations)
		})
	}
}

func TestValidatorViolationDetail(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	config := &contracts.ValidationConfig{Rules: []contracts.ValidationRule{
		{Path: "params.budget.annual", Op: contracts.OpLTE, Value: 200000},
	}}
	violations := v.Evaluate(config, testDoc())
	require.Len(t, violations, 1)

	viol := violations[0]
	require.Equal(t, "params.budget.annual", viol.Path)
	require.Equal(t, "<=", viol.Op)
	require.Equal(t, 200000, viol.Expected)
	require.Equal(t, float64(250000), viol.Actual)
}

func TestValidatorCustomMessage(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	config := &contracts.ValidationConfig{Rules: []contracts.ValidationRule{
		{Path: "params.budget.annual", Op: contracts.OpLTE, Value: 200000, Message: "annual budget cap exceeded"},
	}}
	violations := v.Evaluate(config, testDoc())
	require.Len(t, violations, 1)
	require.Equal(t, "annual budget cap exceeded", violations[0].Message)
}

func TestValidatorExpressionRules(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name           string
		expr           string
		wantViolations int
	}{
		{
			name: "true expression",
			expr: `params.budget.annual <= 300000.0 && params.vendor == "acme"`,
		},
		{
			name:           "false expression",
			expr:           `params.budget.annual <= 100000.0`,
			wantViolations: 1,
		},
		{
			name:           "compile error is a violation",
			expr:           `params.budget.annual <=`,
			wantViolations: 1,
		},
		{
			name:           "non-boolean result is a violation",
			expr:           `params.budget.annual`,
			wantViolations: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := &contracts.ValidationConfig{Rules: []contracts.ValidationRule{
				{Kind: contracts.RuleKindExpression, Expression: tc.expr},
			}}
			violations := v.Evaluate(config, testDoc())
			require.Len(t, violations, tc.wantViolations)
		})
	}
}

func TestValidatorSchemaRules(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	schema := json.RawMessage(`{
		"type": "object",
		"required": ["vendor", "budget"],
		"properties": {
			"vendor": {"type": "string"},
			"budget": {
				"type": "object",
				"required": ["annual"],
				"properties": {"annual": {"type": "number", "maximum": 500000}}
			}
		}
	}`)

	t.Run("conforming parameters", func(t *testing.T) {
		config := &contracts.ValidationConfig{Rules: []contracts.ValidationRule{
			{Kind: contracts.RuleKindSchema, Schema: schema},
		}}
		violations := v.Evaluate(config, testDoc())
		require.Empty(t, violations)
	})

	t.Run("missing required field", func(t *testing.T) {
		config := &contracts.ValidationConfig{Rules: []contracts.ValidationRule{
			{Kind: contracts.RuleKindSchema, Schema: schema},
		}}
		doc := Document{"params": map[string]any{"vendor": "acme"}, "meta": map[string]any{}}
		violations := v.Evaluate(config, doc)
		require.Len(t, violations, 1)
	})

	t.Run("malformed schema is a violation", func(t *testing.T) {
		config := &contracts.ValidationConfig{Rules: []contracts.ValidationRule{
			{Kind: contracts.RuleKindSchema, Schema: json.RawMessage(`{"type": 42}`)},
		}}
		violations := v.Evaluate(config, testDoc())
		require.Len(t, violations, 1)
	})
}

func TestValidatorNilConfig(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	require.Empty(t, v.Evaluate(nil, testDoc()))
	require.Empty(t, v.Evaluate(&contracts.ValidationConfig{}, testDoc()))
}

func TestResolve(t *testing.T) {
	doc := testDoc()

	val, ok := Resolve(doc, "params.budget.currency")
	require.True(t, ok)
	require.Equal(t, "EUR", val)

	_, ok = Resolve(doc, "params.budget.annual.cents")
	require.False(t, ok)

	_, ok = Resolve(doc, "")
	require.False(t, ok)
}

func TestDecisionDocument(t *testing.T) {
	d := &contracts.Decision{
		Title:      "Adopt managed Postgres",
		Category:   "infrastructure",
		Parameters: map[string]any{"provider": "hosted"},
	}
	doc := DecisionDocument(d)

	val, ok := Resolve(doc, "params.provider")
	require.True(t, ok)
	require.Equal(t, "hosted", val)

	val, ok = Resolve(doc, "meta.category")
	require.True(t, ok)
	require.Equal(t, "infrastructure", val)
}
