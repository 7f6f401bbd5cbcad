package contracts

import (
	"encoding/json"
	"time"
)

// ConstraintType categorizes what kind of rule a constraint encodes.
type ConstraintType string

const (
	ConstraintLegal      ConstraintType = "LEGAL"
	ConstraintBudget     ConstraintType = "BUDGET"
	ConstraintPolicy     ConstraintType = "POLICY"
	ConstraintTechnical  ConstraintType = "TECHNICAL"
	ConstraintCompliance ConstraintType = "COMPLIANCE"
	ConstraintOther      ConstraintType = "OTHER"
)

// RuleKind selects how a validation rule is evaluated.
type RuleKind string

const (
	// RuleKindPredicate compares a dotted-path value with an operator.
	RuleKindPredicate RuleKind = "predicate"
	// RuleKindExpression evaluates a CEL expression over the document.
	RuleKindExpression RuleKind = "cel"
	// RuleKindSchema validates the document against a JSON Schema.
	RuleKindSchema RuleKind = "schema"
)

// PredicateOp is the comparison operator of a predicate rule.
type PredicateOp string

const (
	OpLTE     PredicateOp = "<="
	OpGTE     PredicateOp = ">="
	OpEQ      PredicateOp = "=="
	OpNEQ     PredicateOp = "!="
	OpIn      PredicateOp = "in"
	OpBetween PredicateOp = "between"
	OpMatches PredicateOp = "matches"
	// OpSemver checks a version string against a semver range.
	OpSemver PredicateOp = "semver"
)

// ValidationRule is one rule of a constraint's validation config.
// Exactly the fields for its kind are set: predicate rules use
// Path/Op plus the operand fields, expression rules use Expression,
// schema rules use Schema.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ValidationRule struct {
	Kind RuleKind `json:"kind"`

	// Predicate fields. Value carries the operand for scalar ops,
	// Values the allowed set for "in", Min/Max the bounds for
	// "between", Pattern the regular expression for "matches", and
	// Range the semver range for "semver".
	Path    string      `json:"path,omitempty"`
	Op      PredicateOp `json:"op,omitempty"`
	Value   any         `json:"value,omitempty"`
	Values  []any       `json:"values,omitempty"`
	Min     any         `json:"min,omitempty"`
	Max     any         `json:"max,omitempty"`
	Pattern string      `json:"pattern,omitempty"`
	Range   string      `json:"range,omitempty"`

	Expression string          `json:"expression,omitempty"`
	Schema     json.RawMessage `json:"schema,omitempty"`

	// Message overrides the generated violation text.
	Message string `json:"message,omitempty"`
}

// ValidationConfig is the declarative predicate descriptor attached to
// a constraint. All rules must pass for the constraint to hold.
type ValidationConfig struct {
	Rules []ValidationRule `json:"rules"`
}

// Constraint is a rule a decision must keep honoring.
type Constraint struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Type           ConstraintType    `json:"type"`
	Validation     *ValidationConfig `json:"validation,omitempty"`
	// IsImmutable is advisory: callers should treat the constraint
	// definition as frozen, but the core does not enforce it.
	IsImmutable bool      `json:"is_immutable"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
