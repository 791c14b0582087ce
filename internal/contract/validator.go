package contract

import (
	"fmt"
	"reflect"
	"strings"
)

// Snapshot is the read-only state a predicate is evaluated against.
// Artifacts shadow inputs on key collision: a step that re-derives an
// input sees its own output.
type Snapshot struct {
	Inputs     map[string]any
	Artifacts  map[string]any
	CostUSD    float64
	ElapsedSec float64
}

// Lookup resolves a predicate target against the snapshot.
func (s Snapshot) Lookup(target string) (any, bool) {
	if v, ok := s.Artifacts[target]; ok {
		return v, true
	}
	v, ok := s.Inputs[target]
	return v, ok
}

// CheckPredicates evaluates the predicates against the snapshot and returns
// the names of every violated predicate (empty slice means pass). Pure
// function: no retries, no I/O, no mutation of the snapshot.
func CheckPredicates(preds []Predicate, snap Snapshot) []string {
	var violated []string
	for _, p := range preds {
		if !holds(p, snap) {
			violated = append(violated, p.Name)
		}
	}
	return violated
}

// CheckBudget evaluates a step's observed cost and latency against its
// budget. Thresholds are inclusive: spending exactly the budget passes.
// Zero budget values mean unbounded. Returned slice uses the same naming
// convention as predicate violations.
func CheckBudget(b Budget, costUSD, latencySec float64) []string {
	var violated []string
	if b.CostUSD > 0 && costUSD > b.CostUSD {
		violated = append(violated, fmt.Sprintf("budget_cost_exceeded(%.4f>%.4f)", costUSD, b.CostUSD))
	}
	if b.LatencySec > 0 && latencySec > b.LatencySec {
		violated = append(violated, fmt.Sprintf("budget_latency_exceeded(%.2f>%.2f)", latencySec, b.LatencySec))
	}
	return violated
}

func holds(p Predicate, snap Snapshot) bool {
	v, found := snap.Lookup(p.Target)

	switch p.Check {
	case CheckExists:
		return found
	case CheckNonEmpty:
		if !found {
			return false
		}
		return !isEmpty(v)
	case CheckType:
		if !found {
			return false
		}
		want, _ := p.Arg.(string)
		return Schema{Type: want}.Matches(v)
	case CheckEquals:
		if !found {
			return false
		}
		if fa, fb, ok := bothNumeric(v, p.Arg); ok {
			return fa == fb
		}
		return reflect.DeepEqual(v, p.Arg)
	case CheckMin:
		fv, fa, ok := bothNumeric(v, p.Arg)
		return found && ok && fv >= fa
	case CheckMax:
		fv, fa, ok := bothNumeric(v, p.Arg)
		return found && ok && fv <= fa
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func bothNumeric(a, b any) (float64, float64, bool) {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	return fa, fb, aok && bok
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
