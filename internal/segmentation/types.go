// Package segmentation evaluates segment conditions against fans.
//
// A segment is an ordered list of conditions. Each condition carries the
// logic that joins it to the next one, and the list is folded strictly
// left to right: [A and, B or, C] evaluates as ((A and B) or C). There is no
// AND-over-OR precedence and no grouping. Saved segments depend on this
// ordering, so it must not be "corrected" to conventional precedence.
package segmentation

// ==========================================
// OPERATORS
// ==========================================

// Operator represents a comparison operator
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// OperatorMetadata contains info about an operator
type OperatorMetadata struct {
	Operator      Operator `json:"operator"`
	Label         string   `json:"label"`
	Description   string   `json:"description"`
	RequiresArray bool     `json:"requires_array"`
}

// GetOperatorMetadata returns metadata for all supported operators
func GetOperatorMetadata() []OperatorMetadata {
	return []OperatorMetadata{
		{OpEquals, "Equals", "Exact match", false},
		{OpNotEquals, "Does not equal", "Not an exact match", false},
		{OpContains, "Contains", "Contains the text, or has the tag", false},
		{OpNotContains, "Does not contain", "Does not contain the text, or lacks the tag", false},
		{OpGreaterThan, "Greater than", "Number is greater than", false},
		{OpLessThan, "Less than", "Number is less than", false},
		{OpIn, "Is any of", "Value (or any tag) is in the list", true},
		{OpNotIn, "Is none of", "Value is not in the list", true},
	}
}

// Known reports whether op is one of the supported operators.
func (op Operator) Known() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpGreaterThan, OpLessThan, OpIn, OpNotIn:
		return true
	}
	return false
}

// ==========================================
// LOGIC OPERATORS
// ==========================================

// Logic joins a condition to its successor.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// ==========================================
// FIELDS
// ==========================================

const (
	// FieldTags addresses the fan's tag set.
	FieldTags = "tags"
	// CustomFieldPrefix addresses a key in the fan's custom fields.
	CustomFieldPrefix = "custom_fields."
)

// ==========================================
// CONDITIONS
// ==========================================

// Condition is one predicate term. Logic describes the join to the next
// condition in the list and is ignored on the last one; empty means and.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
	Logic    Logic    `json:"logic,omitempty"`
}
