package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/josephgoksu/PlanWing/internal/contract"
)

// NewBuiltinRegistry returns a registry preloaded with the built-in pure
// capabilities. These exist so the CLI and tests can exercise the full
// engine without any external executor; production deployments register
// their own capabilities alongside or instead of them.
func NewBuiltinRegistry() *Registry {
	r := New()
	for _, c := range Builtins() {
		r.Register(c)
	}
	return r
}

// Builtins returns the built-in capability set.
func Builtins() []Capability {
	num := contract.Schema{Type: "number"}
	str := contract.Schema{Type: "string"}

	return []Capability{
		&FuncCapability{
			CapRef:      "arith/sum",
			Desc:        "Adds two numbers.",
			In:          map[string]contract.Schema{"a": num, "b": num},
			Out:         map[string]contract.Schema{"sum": num},
			EstimateUSD: 0.0001,
			Fn: func(ctx context.Context, input map[string]any) (map[string]any, float64, error) {
				a, b, err := twoNumbers(input, "a", "b")
				if err != nil {
					return nil, 0, err
				}
				return map[string]any{"sum": a + b}, 0.0001, nil
			},
		},
		&FuncCapability{
			CapRef:      "arith/product",
			Desc:        "Multiplies two numbers.",
			In:          map[string]contract.Schema{"a": num, "b": num},
			Out:         map[string]contract.Schema{"product": num},
			EstimateUSD: 0.0001,
			Fn: func(ctx context.Context, input map[string]any) (map[string]any, float64, error) {
				a, b, err := twoNumbers(input, "a", "b")
				if err != nil {
					return nil, 0, err
				}
				return map[string]any{"product": a * b}, 0.0001, nil
			},
		},
		&FuncCapability{
			CapRef:      "text/concat",
			Desc:        "Concatenates left and right strings with a separator.",
			In:          map[string]contract.Schema{"left": str, "right": str},
			Out:         map[string]contract.Schema{"text": str},
			EstimateUSD: 0.0001,
			Fn: func(ctx context.Context, input map[string]any) (map[string]any, float64, error) {
				left, _ := input["left"].(string)
				right, _ := input["right"].(string)
				sep, _ := input["separator"].(string)
				if sep == "" {
					sep = " "
				}
				return map[string]any{"text": strings.TrimSpace(left + sep + right)}, 0.0001, nil
			},
		},
		&FuncCapability{
			CapRef:      "text/upper",
			Desc:        "Uppercases a string.",
			In:          map[string]contract.Schema{"text": str},
			Out:         map[string]contract.Schema{"upper": str},
			EstimateUSD: 0.0001,
			Fn: func(ctx context.Context, input map[string]any) (map[string]any, float64, error) {
				s, ok := input["text"].(string)
				if !ok {
					return nil, 0, fmt.Errorf("input text must be a string")
				}
				return map[string]any{"upper": strings.ToUpper(s)}, 0.0001, nil
			},
		},
	}
}

func twoNumbers(input map[string]any, ka, kb string) (float64, float64, error) {
	a, aok := asFloat(input[ka])
	b, bok := asFloat(input[kb])
	if !aok || !bok {
		return 0, 0, fmt.Errorf("inputs %s and %s must be numbers", ka, kb)
	}
	return a, b, nil
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
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
