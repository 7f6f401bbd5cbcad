// Package predicate evaluates constraint validation configs against a
// decision document. The rule language is small and declarative:
// comparison predicates on dotted paths, CEL expressions for anything
// relational, and JSON Schema for parameter shape.
//
// Evaluation is fail-closed: a rule that cannot be evaluated (missing
// path, malformed pattern, non-boolean expression) counts as a
// violation rather than being skipped.
package predicate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/decivue/core/pkg/contracts"
)

// Document is the evaluation target assembled from a decision:
// parameters under "params", selected metadata under "meta".
type Document map[string]any

// DecisionDocument builds the document for a decision snapshot.
func DecisionDocument(d *contracts.Decision) Document {
	params := d.Parameters
	if params == nil {
		params = map[string]any{}
	}
	meta := map[string]any{
		"title":    d.Title,
		"category": d.Category,
	}
	if d.ExpiryDate != nil {
		meta["expiry_date"] = d.ExpiryDate.UTC().Format("2006-01-02")
	}
	return Document{"params": params, "meta": meta}
}

// Violation describes one failed rule with expected vs actual.
type Violation struct {
	Path     string `json:"path,omitempty"`
	Op       string `json:"op,omitempty"`
	Expected any    `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Message  string `json:"message"`
}

// Validator evaluates validation configs. Compiled CEL programs,
// regular expressions, and JSON Schemas are cached across calls, so a
// single Validator should be shared.
type Validator struct {
	env *cel.Env

	mu          sync.RWMutex
	prgCache    map[string]cel.Program
	regexCache  map[string]*regexp.Regexp
	schemaCache map[string]*jsonschema.Schema
}

// NewValidator creates a validator with the standard environment.
func NewValidator() (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("params", cel.DynType),
		cel.Variable("meta", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Validator{
		env:         env,
		prgCache:    make(map[string]cel.Program),
		regexCache:  make(map[string]*regexp.Regexp),
		schemaCache: make(map[string]*jsonschema.Schema),
	}, nil
}

// Evaluate runs every rule of the config against the document and
// returns the violations. An empty slice means the constraint holds.
func (v *Validator) Evaluate(config *contracts.ValidationConfig, doc Document) []Violation {
	if config == nil || len(config.Rules) == 0 {
		return nil
	}
	var violations []Violation
	for i := range config.Rules {
		rule := &config.Rules[i]
		if viol := v.evaluateRule(rule, doc); viol != nil {
			if rule.Message != "" {
				viol.Message = rule.Message
			}
			violations = append(violations, *viol)
		}
	}
	return violations
}

func (v *Validator) evaluateRule(rule *contracts.ValidationRule, doc Document) *Violation {
	switch rule.Kind {
	case contracts.RuleKindPredicate, "":
		return v.evaluatePredicate(rule, doc)
	case contracts.RuleKindExpression:
		return v.evaluateExpression(rule, doc)
	case contracts.RuleKindSchema:
		return v.evaluateSchema(rule, doc)
	default:
		return &Violation{
			Message: fmt.Sprintf("unknown rule kind %q", rule.Kind),
		}
	}
}

func (v *Validator) evaluateExpression(rule *contracts.ValidationRule, doc Document) *Violation {
	prg, err := v.program(rule.Expression)
	if err != nil {
		return &Violation{
			Op:       string(contracts.RuleKindExpression),
			Expected: rule.Expression,
			Message:  fmt.Sprintf("expression rejected: %v", err),
		}
	}
	out, _, err := prg.Eval(map[string]any{
		"params": doc["params"],
		"meta":   doc["meta"],
	})
	if err != nil {
		return &Violation{
			Op:       string(contracts.RuleKindExpression),
			Expected: rule.Expression,
			Message:  fmt.Sprintf("expression evaluation failed: %v", err),
		}
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return &Violation{
			Op:       string(contracts.RuleKindExpression),
			Expected: rule.Expression,
			Message:  "expression did not produce a boolean",
		}
	}
	if !ok {
		return &Violation{
			Op:       string(contracts.RuleKindExpression),
			Expected: rule.Expression,
			Actual:   false,
			Message:  fmt.Sprintf("expression %q is false", rule.Expression),
		}
	}
	return nil
}

func (v *Validator) evaluateSchema(rule *contracts.ValidationRule, doc Document) *Violation {
	schema, err := v.compiledSchema(rule.Schema)
	if err != nil {
		return &Violation{
			Op:      string(contracts.RuleKindSchema),
			Message: fmt.Sprintf("schema rejected: %v", err),
		}
	}
	if err := schema.Validate(doc["params"]); err != nil {
		return &Violation{
			Op:      string(contracts.RuleKindSchema),
			Actual:  doc["params"],
			Message: fmt.Sprintf("parameters failed schema validation: %v", err),
		}
	}
	return nil
}

// program returns the compiled CEL program for expr, compiling and
// caching on first use.
func (v *Validator) program(expr string) (cel.Program, error) {
	v.mu.RLock()
	prg, hit := v.prgCache[expr]
	v.mu.RUnlock()
	if hit {
		return prg, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	// Double check
	if prg, hit = v.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := v.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := v.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	v.prgCache[expr] = p
	return p, nil
}

func (v *Validator) compiledRegex(pattern string) (*regexp.Regexp, error) {
	v.mu.RLock()
	re, hit := v.regexCache[pattern]
	v.mu.RUnlock()
	if hit {
		return re, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if re, hit = v.regexCache[pattern]; hit {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	v.regexCache[pattern] = re
	return re, nil
}

func (v *Validator) compiledSchema(raw []byte) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty schema")
	}
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	schema, hit := v.schemaCache[key]
	v.mu.RUnlock()
	if hit {
		return schema, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if schema, hit = v.schemaCache[key]; hit {
		return schema, nil
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://decivue.schemas.local/constraints/%s.schema.json", key[:12])
	if err := c.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	v.schemaCache[key] = compiled
	return compiled, nil
}
