package engine

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"cobalt-hq/saturn/pkg/dsl/ast"
)

// evaluateOperator evaluates a comparison between the actual fact value and
// the expected definition value. The operator set is closed; unknown
// operators are rejected at load time, so the default branch is defensive
// only. A returned error means the comparison was not type-compatible; the
// evaluator downgrades it to a warning and a false result.
func evaluateOperator(op ast.Operator, actual, expected any) (bool, error) {
	switch op {
	case ast.OperatorEquals:
		return evaluateEquals(actual, expected), nil

	case ast.OperatorNotEquals:
		return !evaluateEquals(actual, expected), nil

	case ast.OperatorLessThan:
		a, b, err := toNumericPair(actual, expected)
		if err != nil {
			return false, err
		}
		return a < b, nil

	case ast.OperatorLessThanOrEqual:
		a, b, err := toNumericPair(actual, expected)
		if err != nil {
			return false, err
		}
		return a <= b, nil

	case ast.OperatorGreaterThan:
		a, b, err := toNumericPair(actual, expected)
		if err != nil {
			return false, err
		}
		return a > b, nil

	case ast.OperatorGreaterThanOrEqual:
		a, b, err := toNumericPair(actual, expected)
		if err != nil {
			return false, err
		}
		return a >= b, nil

	case ast.OperatorContains:
		return evaluateContains(actual, expected)

	case ast.OperatorIn:
		return evaluateIn(actual, expected)

	case ast.OperatorMatchesRegex:
		return evaluateMatchesRegex(actual, expected)

	default:
		return false, fmt.Errorf("unknown operator: %q", op)
	}
}

// evaluateEquals checks equality with numeric coercion so that int facts
// compare equal to float64 definition values.
func evaluateEquals(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}

	actualNum, actualOK := toNumeric(actual)
	expectedNum, expectedOK := toNumeric(expected)
	if actualOK && expectedOK {
		return actualNum == expectedNum
	}

	return reflect.DeepEqual(actual, expected)
}

// evaluateContains checks substring containment for strings, element
// containment for lists.
func evaluateContains(actual, expected any) (bool, error) {
	if actualStr, ok := actual.(string); ok {
		expectedStr, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string fact requires a string value, got %T", expected)
		}
		return strings.Contains(actualStr, expectedStr), nil
	}

	actualVal := reflect.ValueOf(actual)
	if actualVal.Kind() != reflect.Slice && actualVal.Kind() != reflect.Array {
		return false, fmt.Errorf("contains requires a string or list fact, got %T", actual)
	}
	for i := 0; i < actualVal.Len(); i++ {
		if looseEqual(actualVal.Index(i).Interface(), expected) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateIn checks membership of the fact value in the expected list.
func evaluateIn(actual, expected any) (bool, error) {
	expectedVal := reflect.ValueOf(expected)
	if expectedVal.Kind() != reflect.Slice && expectedVal.Kind() != reflect.Array {
		return false, fmt.Errorf("in requires a list value, got %T", expected)
	}
	for i := 0; i < expectedVal.Len(); i++ {
		if looseEqual(actual, expectedVal.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

// evaluateMatchesRegex matches the fact value against the expected pattern.
// Patterns are compile-checked at definition load; a failure here means the
// definition bypassed validation.
func evaluateMatchesRegex(actual, expected any) (bool, error) {
	actualStr, ok := actual.(string)
	if !ok {
		return false, fmt.Errorf("matchesRegex requires a string fact, got %T", actual)
	}
	pattern, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("matchesRegex requires a string pattern, got %T", expected)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}
	return re.MatchString(actualStr), nil
}

// looseEqual is equality with numeric coercion, for list membership checks.
func looseEqual(a, b any) bool {
	aNum, aOK := toNumeric(a)
	bNum, bOK := toNumeric(b)
	if aOK && bOK {
		return aNum == bNum
	}
	return reflect.DeepEqual(a, b)
}

// toNumericPair converts both values to float64 or reports why it cannot.
func toNumericPair(actual, expected any) (float64, float64, error) {
	a, ok := toNumeric(actual)
	if !ok {
		return 0, 0, fmt.Errorf("fact value %T is not numeric", actual)
	}
	b, ok := toNumeric(expected)
	if !ok {
		return 0, 0, fmt.Errorf("expected value %T is not numeric", expected)
	}
	return a, b, nil
}

// toNumeric converts the numeric types produced by JSON/YAML decoding and
// by in-code fact construction to float64.
func toNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
