package predicate

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/decivue/core/pkg/contracts"
)

func (v *Validator) evaluatePredicate(rule *contracts.ValidationRule, doc Document) *Violation {
	actual, found := Resolve(doc, rule.Path)
	if !found {
		return &Violation{
			Path:    rule.Path,
			Op:      string(rule.Op),
			Message: fmt.Sprintf("path %q not present", rule.Path),
		}
	}

	switch rule.Op {
	case contracts.OpLTE:
		return v.compareNumeric(rule, actual, func(a, b float64) bool { return a <= b })
	case contracts.OpGTE:
		return v.compareNumeric(rule, actual, func(a, b float64) bool { return a >= b })
	case contracts.OpEQ:
		if !looseEqual(actual, rule.Value) {
			return violation(rule, rule.Value, actual, "values differ")
		}
	case contracts.OpNEQ:
		if looseEqual(actual, rule.Value) {
			return violation(rule, rule.Value, actual, "values equal")
		}
	case contracts.OpIn:
		for _, candidate := range rule.Values {
			if looseEqual(actual, candidate) {
				return nil
			}
		}
		return violation(rule, rule.Values, actual, "value not in allowed set")
	case contracts.OpBetween:
		return v.evaluateBetween(rule, actual)
	case contracts.OpMatches:
		return v.evaluateMatches(rule, actual)
	case contracts.OpSemver:
		return v.evaluateSemver(rule, actual)
	default:
		return &Violation{
			Path:    rule.Path,
			Op:      string(rule.Op),
			Message: fmt.Sprintf("unknown operator %q", rule.Op),
		}
	}
	return nil
}

func (v *Validator) compareNumeric(rule *contracts.ValidationRule, actual any, cmp func(a, b float64) bool) *Violation {
	a, ok := toFloat(actual)
	if !ok {
		return violation(rule, rule.Value, actual, "value is not numeric")
	}
	b, ok := toFloat(rule.Value)
	if !ok {
		return violation(rule, rule.Value, actual, "operand is not numeric")
	}
	if !cmp(a, b) {
		return violation(rule, rule.Value, actual, "comparison failed")
	}
	return nil
}

func (v *Validator) evaluateBetween(rule *contracts.ValidationRule, actual any) *Violation {
	a, ok := toFloat(actual)
	if !ok {
		return violation(rule, boundsOf(rule), actual, "value is not numeric")
	}
	lo, okLo := toFloat(rule.Min)
	hi, okHi := toFloat(rule.Max)
	if !okLo || !okHi {
		return violation(rule, boundsOf(rule), actual, "bounds are not numeric")
	}
	if a < lo || a > hi {
		return violation(rule, boundsOf(rule), actual, "value outside bounds")
	}
	return nil
}

func (v *Validator) evaluateMatches(rule *contracts.ValidationRule, actual any) *Violation {
	s, ok := actual.(string)
	if !ok {
		return violation(rule, rule.Pattern, actual, "value is not a string")
	}
	re, err := v.compiledRegex(rule.Pattern)
	if err != nil {
		return violation(rule, rule.Pattern, actual, fmt.Sprintf("pattern rejected: %v", err))
	}
	if !re.MatchString(s) {
		return violation(rule, rule.Pattern, actual, "pattern does not match")
	}
	return nil
}

func (v *Validator) evaluateSemver(rule *contracts.ValidationRule, actual any) *Violation {
	s, ok := actual.(string)
	if !ok {
		return violation(rule, rule.Range, actual, "value is not a version string")
	}
	constraint, err := semver.NewConstraint(rule.Range)
	if err != nil {
		return violation(rule, rule.Range, actual, fmt.Sprintf("invalid version range: %v", err))
	}
	ver, err := semver.NewVersion(s)
	if err != nil {
		return violation(rule, rule.Range, actual, fmt.Sprintf("invalid version: %v", err))
	}
	if !constraint.Check(ver) {
		return violation(rule, rule.Range, actual, "version outside range")
	}
	return nil
}

func violation(rule *contracts.ValidationRule, expected, actual any, msg string) *Violation {
	return &Violation{
		Path:     rule.Path,
		Op:       string(rule.Op),
		Expected: expected,
		Actual:   actual,
		Message:  msg,
	}
}

func boundsOf(rule *contracts.ValidationRule) any {
	return []any{rule.Min, rule.Max}
}

// Resolve walks a dotted path through nested maps. The second return
// is false when any segment is absent or a non-map is traversed.
func Resolve(doc Document, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = map[string]any(doc)
	for _, segment := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	}
	return nil, false
}

// toFloat coerces JSON-shaped numeric values to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// looseEqual compares values the way JSON round-tripping sees them:
// numbers numerically, everything else by deep equality.
func looseEqual(a, b any) bool {
	if fa, okA := toFloat(a); okA {
		if fb, okB := toFloat(b); okB {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
