package resolver

import (
	"fmt"
	"reflect"

	"github.com/flowmesh/engine/internal/engineerr"
	"github.com/flowmesh/engine/internal/ir"
)

func compareEq(lhs, rhs interface{}) bool {
	lf, lok := toFloat(lhs)
	rf, rok := toFloat(rhs)
	if lok && rok {
		return lf == rf
	}
	return reflect.DeepEqual(lhs, rhs)
}

func compareOrdered(op ir.Operator, lhs, rhs interface{}) (bool, error) {
	lf, lok := toFloat(lhs)
	rf, rok := toFloat(rhs)
	if !lok || !rok {
		return false, engineerr.Validation("condition", "operator %q requires numeric operands, got %T and %T", op, lhs, rhs)
	}
	switch op {
	case ir.OpGt:
		return lf > rf, nil
	case ir.OpGte:
		return lf >= rf, nil
	case ir.OpLt:
		return lf < rf, nil
	case ir.OpLte:
		return lf <= rf, nil
	}
	return false, fmt.Errorf("resolver: unreachable operator %q", op)
}

func compareMembership(op ir.Operator, needle, haystack interface{}) (bool, error) {
	arr, ok := haystack.([]interface{})
	if !ok {
		return false, engineerr.Validation("condition", "operator %q requires an array operand, got %T", op, haystack)
	}
	found := false
	for _, item := range arr {
		if compareEq(needle, item) {
			found = true
			break
		}
	}
	if op == ir.OpNotIn {
		return !found, nil
	}
	return found, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
