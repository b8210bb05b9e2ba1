package segmentation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidationError describes the first invalid condition in a list.
// Index is -1 when the list itself is the problem.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return e.Reason
	}
	return fmt.Sprintf("condition %d: %s", e.Index, e.Reason)
}

// Validate checks a condition list before it is saved: at least one entry,
// a field on every entry, a known operator, and a logic of and/or when
// present. Value shapes are not checked; mismatches evaluate to false.
func Validate(conditions []Condition) error {
	if len(conditions) == 0 {
		return &ValidationError{Index: -1, Reason: "at least one condition is required"}
	}
	for i, c := range conditions {
		if strings.TrimSpace(c.Field) == "" {
			return &ValidationError{Index: i, Reason: "field is required"}
		}
		if c.Field == CustomFieldPrefix {
			return &ValidationError{Index: i, Reason: "custom field key is required"}
		}
		if !c.Operator.Known() {
			return &ValidationError{Index: i, Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
		}
		switch c.Logic {
		case "", LogicAnd, LogicOr:
		default:
			return &ValidationError{Index: i, Reason: fmt.Sprintf("unknown logic %q", c.Logic)}
		}
	}
	return nil
}

// Parse decodes a stored condition list.
func Parse(raw []byte) ([]Condition, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []Condition
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	return out, nil
}
