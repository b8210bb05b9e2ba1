package segmentation

import (
	"strings"
	"time"

	"github.com/ignite/fanmail/internal/domain"
)

// fieldAccessors maps the fan attributes a condition may address directly.
// Fields missing from this table do not match anything.
var fieldAccessors = map[string]func(*domain.Fan) Value{
	"id":         func(f *domain.Fan) Value { return String(f.ID) },
	"account_id": func(f *domain.Fan) Value { return String(f.AccountID) },
	"email":      func(f *domain.Fan) Value { return String(f.Email) },
	"first_name": func(f *domain.Fan) Value { return String(f.FirstName) },
	"last_name":  func(f *domain.Fan) Value { return String(f.LastName) },
	"status":     func(f *domain.Fan) Value { return String(string(f.Status)) },
	"created_at": func(f *domain.Fan) Value {
		if f.CreatedAt.IsZero() {
			return Null()
		}
		return String(f.CreatedAt.UTC().Format(time.RFC3339))
	},
}

// Evaluate reports whether fan belongs to the set described by conditions.
// An empty list matches every fan.
func Evaluate(fan *domain.Fan, conditions []Condition) bool {
	if len(conditions) == 0 {
		return true
	}

	result := evalOne(fan, conditions[0])
	for i := 1; i < len(conditions); i++ {
		next := evalOne(fan, conditions[i])
		if conditions[i-1].Logic == LogicOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

// Filter returns the fans matching conditions, preserving order.
func Filter(fans []domain.Fan, conditions []Condition) []domain.Fan {
	out := make([]domain.Fan, 0, len(fans))
	for i := range fans {
		if Evaluate(&fans[i], conditions) {
			out = append(out, fans[i])
		}
	}
	return out
}

// Count returns how many fans match conditions.
func Count(fans []domain.Fan, conditions []Condition) int {
	n := 0
	for i := range fans {
		if Evaluate(&fans[i], conditions) {
			n++
		}
	}
	return n
}

func evalOne(fan *domain.Fan, c Condition) bool {
	switch {
	case c.Field == FieldTags:
		return evalTags(fan.Tags, c.Operator, c.Value)
	case strings.HasPrefix(c.Field, CustomFieldPrefix):
		key := strings.TrimPrefix(c.Field, CustomFieldPrefix)
		left := Null()
		if raw, ok := fan.CustomFields[key]; ok {
			left = ValueOf(raw)
		}
		return Compare(left, c.Operator, c.Value)
	}

	get, ok := fieldAccessors[c.Field]
	if !ok {
		return false
	}
	return Compare(get(fan), c.Operator, c.Value)
}

// evalTags treats tags as a set. in/not_in are existential over the
// condition's array: one shared tag is enough.
func evalTags(tags []string, op Operator, right Value) bool {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	has := func(v Value) bool {
		s, ok := v.AsString()
		if !ok {
			return false
		}
		_, found := set[s]
		return found
	}
	anyOf := func(vs []Value) bool {
		for _, v := range vs {
			if has(v) {
				return true
			}
		}
		return false
	}

	switch op {
	case OpContains:
		return has(right)
	case OpNotContains:
		if _, ok := right.AsString(); !ok {
			return false
		}
		return !has(right)
	case OpIn:
		vs, ok := right.AsArray()
		return ok && anyOf(vs)
	case OpNotIn:
		vs, ok := right.AsArray()
		return ok && !anyOf(vs)
	}
	return false
}

// Compare applies op to left and right. Shape mismatches never panic or
// error; they resolve to false.
func Compare(left Value, op Operator, right Value) bool {
	switch op {
	case OpEquals:
		return left.StrictEqual(right)
	case OpNotEquals:
		return !left.StrictEqual(right)
	case OpContains, OpNotContains:
		l, lok := left.AsString()
		r, rok := right.AsString()
		if !lok || !rok {
			return false
		}
		if op == OpContains {
			return strings.Contains(l, r)
		}
		return !strings.Contains(l, r)
	case OpGreaterThan, OpLessThan:
		l, lok := left.AsNumber()
		r, rok := right.AsNumber()
		if !lok || !rok {
			return false
		}
		if op == OpGreaterThan {
			return l > r
		}
		return l < r
	case OpIn, OpNotIn:
		vs, ok := right.AsArray()
		if !ok {
			return false
		}
		member := false
		for _, v := range vs {
			if left.StrictEqual(v) {
				member = true
				break
			}
		}
		if op == OpIn {
			return member
		}
		return !member
	}
	return false
}
