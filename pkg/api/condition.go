package api

import "strings"

// Operator is a comparison operator usable in a Condition.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
)

// Condition compares a field of the execution context against a
// literal value.
//
// Field "message" reads the current inbound text; any other field name
// reads the session data map, with a missing key treated as the empty
// string. All comparisons are case-insensitive.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// FieldMessage selects the current inbound message text.
const FieldMessage = "message"

// Evaluate resolves the condition against the given message and
// session data. It is a pure function: identical inputs always yield
// identical results.
//
// An unknown operator evaluates to false rather than failing. This is
// deliberate: a malformed graph must not be able to crash message
// processing.
func (c Condition) Evaluate(message string, data map[string]string) bool {
	var fieldValue string
	if c.Field == FieldMessage {
		fieldValue = message
	} else {
		fieldValue = data[c.Field]
	}

	fieldValue = strings.ToLower(fieldValue)
	literal := strings.ToLower(c.Value)

	switch c.Operator {
	case OpEquals:
		return fieldValue == literal
	case OpContains:
		return strings.Contains(fieldValue, literal)
	case OpStartsWith:
		return strings.HasPrefix(fieldValue, literal)
	default:
		return false
	}
}
