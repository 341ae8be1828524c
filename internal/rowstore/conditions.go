package rowstore

import "encoding/json"

// matchesWriteConditions reports whether row (JSON-encoded, may be nil for
// a not-yet-existing row) satisfies every condition in conds.
func matchesWriteConditions(row []byte, conds []WriteCondition) bool {
	if len(conds) == 0 {
		return true
	}
	if row == nil {
		return false
	}

	var decoded map[string]any
	if err := json.Unmarshal(row, &decoded); err != nil {
		return false
	}

	for _, c := range conds {
		if !equalValue(decoded[c.Property], c.Value) {
			return false
		}
	}
	return true
}

// matchesCondition evaluates a (possibly nil) condition tree against a
// decoded row.
func matchesCondition(decoded map[string]any, cond *Condition) bool {
	if cond == nil {
		return true
	}
	if len(cond.Children) > 0 {
		switch cond.Join {
		case JoinOr:
			for _, child := range cond.Children {
				c := child
				if matchesCondition(decoded, &c) {
					return true
				}
			}
			return false
		default: // JoinAnd, and unset defaults to AND
			for _, child := range cond.Children {
				c := child
				if !matchesCondition(decoded, &c) {
					return false
				}
			}
			return true
		}
	}

	actual := decoded[cond.Property]
	switch cond.Comparison {
	case CmpNotEqual:
		return !equalValue(actual, cond.Value)
	case CmpGreater:
		return compareValue(actual, cond.Value) > 0
	case CmpLess:
		return compareValue(actual, cond.Value) < 0
	default:
		return equalValue(actual, cond.Value)
	}
}

func equalValue(a, b any) bool {
	return compareValue(a, b) == 0
}

// compareValue orders two JSON-decoded scalars; strings and float64s (the
// shapes json.Unmarshal produces into map[string]any) are handled, anything
// else falls back to equality-only (returns 0 or 1).
func compareValue(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	case float64:
		var bv float64
		switch bt := b.(type) {
		case float64:
			bv = bt
		case int:
			bv = float64(bt)
		default:
			return 1
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}

	if a == b {
		return 0
	}
	return 1
}
