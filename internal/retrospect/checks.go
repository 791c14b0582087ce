package retrospect

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/josephgoksu/PlanWing/internal/artifact"
)

// DeepCheck is a heavyweight validation routine run against an accepted
// artifact. Unlike gates it has no inline latency budget: external calls,
// ground-truth cross-checks, and independent re-derivation all belong here.
type DeepCheck interface {
	// Ref is the stable name contracts use in deferred_check_ref.
	Ref() string

	// Run returns nil when the artifact holds up and an error describing
	// the failure otherwise. Implementations must honor ctx cancellation.
	Run(ctx context.Context, art artifact.Artifact) error
}

// CheckFunc adapts a plain function into a DeepCheck.
type CheckFunc struct {
	CheckRef string
	Fn       func(ctx context.Context, art artifact.Artifact) error
}

func (c *CheckFunc) Ref() string { return c.CheckRef }
func (c *CheckFunc) Run(ctx context.Context, art artifact.Artifact) error {
	return c.Fn(ctx, art)
}

// CheckRegistry holds the available deep checks, keyed by ref.
type CheckRegistry struct {
	mu     sync.RWMutex
	checks map[string]DeepCheck
}

// NewCheckRegistry creates an empty check registry.
func NewCheckRegistry() *CheckRegistry {
	return &CheckRegistry{checks: make(map[string]DeepCheck)}
}

// Register adds a check, replacing any previous one with the same ref.
func (r *CheckRegistry) Register(c DeepCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[c.Ref()] = c
}

// Get returns the check for a ref.
func (r *CheckRegistry) Get(ref string) (DeepCheck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checks[ref]
	if !ok {
		return nil, fmt.Errorf("deep check %q not registered", ref)
	}
	return c, nil
}

// List returns all registered refs, sorted.
func (r *CheckRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.checks))
	for ref := range r.checks {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
