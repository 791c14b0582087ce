/*
Package registry provides the capability registry: the narrow interface
between the engine and whatever actually executes a step (tool call, agent,
remote service). The engine treats every capability as an opaque, possibly
slow, possibly failing function with a declared I/O schema and cost estimate.
*/
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/josephgoksu/PlanWing/internal/contract"
)

// Capability is one registered step executor. Implementations declare the
// named inputs they require and the named outputs they produce; the planner
// dispatches on those declarations, never on reflection.
type Capability interface {
	Ref() string
	Description() string
	Requires() map[string]contract.Schema
	Produces() map[string]contract.Schema

	// CostEstimateUSD is the planning-time cost estimate used for budget
	// feasibility checks. Invoke reports the actual cost.
	CostEstimateUSD() float64

	// Invoke executes the capability. It returns the named outputs, the
	// actual cost in USD, and an error. Implementations must honor ctx
	// cancellation.
	Invoke(ctx context.Context, input map[string]any) (map[string]any, float64, error)
}

// InvokeFunc is the signature of a capability body.
type InvokeFunc func(ctx context.Context, input map[string]any) (map[string]any, float64, error)

// FuncCapability adapts a plain function into a Capability.
type FuncCapability struct {
	CapRef      string
	Desc        string
	In          map[string]contract.Schema
	Out         map[string]contract.Schema
	EstimateUSD float64
	Fn          InvokeFunc
}

func (c *FuncCapability) Ref() string                            { return c.CapRef }
func (c *FuncCapability) Description() string                    { return c.Desc }
func (c *FuncCapability) Requires() map[string]contract.Schema   { return c.In }
func (c *FuncCapability) Produces() map[string]contract.Schema   { return c.Out }
func (c *FuncCapability) CostEstimateUSD() float64               { return c.EstimateUSD }
func (c *FuncCapability) Invoke(ctx context.Context, input map[string]any) (map[string]any, float64, error) {
	return c.Fn(ctx, input)
}

// Registry holds the available capabilities, keyed by ref.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability. Re-registering a ref replaces it.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Ref()] = c
}

// Get returns the capability with the given ref.
func (r *Registry) Get(ref string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[ref]
	if !ok {
		return nil, fmt.Errorf("capability %q not registered", ref)
	}
	return c, nil
}

// Lookup returns every capability producing the named output with a schema
// satisfying the requirement, sorted by cost estimate then ref so planning
// is deterministic and cheapest-first.
func (r *Registry) Lookup(output string, req contract.Schema) []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Capability
	for _, c := range r.caps {
		if s, ok := c.Produces()[output]; ok && s.Satisfies(req) {
			matches = append(matches, c)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CostEstimateUSD() != matches[j].CostEstimateUSD() {
			return matches[i].CostEstimateUSD() < matches[j].CostEstimateUSD()
		}
		return matches[i].Ref() < matches[j].Ref()
	})
	return matches
}

// Alternates returns capabilities other than ref that produce the same
// output set with satisfying schemas. Used by the controller's Substitute
// decision.
func (r *Registry) Alternates(ref string) []Capability {
	r.mu.RLock()
	original, ok := r.caps[ref]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	want := original.Produces()
	var alts []Capability

	r.mu.RLock()
	defer r.mu.RUnlock()
outer:
	for _, c := range r.caps {
		if c.Ref() == ref {
			continue
		}
		produces := c.Produces()
		for name, schema := range want {
			got, ok := produces[name]
			if !ok || !got.Satisfies(schema) {
				continue outer
			}
		}
		alts = append(alts, c)
	}
	sort.Slice(alts, func(i, j int) bool { return alts[i].Ref() < alts[j].Ref() })
	return alts
}

// List returns all capabilities sorted by ref.
func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref() < out[j].Ref() })
	return out
}
