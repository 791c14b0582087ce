// Package lineage tracks consumed-by relationships between content-addressed
// artifacts. The graph is what replay depends on to find every transitively
// derived artifact, so mutation is concurrency-safe and edges are never
// removed.
package lineage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/josephgoksu/PlanWing/internal/artifact"
)

// Graph is a DAG whose nodes are artifact addresses and whose edges point
// from a producer to the artifacts that consumed it. Acyclicity holds by
// construction: an artifact can only consume artifacts that already exist.
// A downstream check guards the one path that could still introduce a cycle
// (re-registering an existing address as a consumer of its own descendant).
type Graph struct {
	mu          sync.RWMutex
	nodes       map[string]bool
	consumers   map[string]map[string]bool // producer -> consumers
	invalidated map[string]string          // address -> reason
}

// NewGraph creates an empty lineage graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:       make(map[string]bool),
		consumers:   make(map[string]map[string]bool),
		invalidated: make(map[string]string),
	}
}

// FromProvenance rebuilds a graph from durable provenance records, for
// impact queries against runs that happened in another process.
func FromProvenance(records []artifact.Provenance) *Graph {
	g := NewGraph()
	for _, p := range records {
		g.AddArtifact(p.ArtifactAddress)
	}
	for _, p := range records {
		for _, consumed := range p.ConsumedAddresses {
			g.AddArtifact(consumed)
			_ = g.AddEdge(p.ArtifactAddress, consumed)
		}
	}
	return g
}

// AddArtifact registers an address as a node. Idempotent.
func (g *Graph) AddArtifact(address string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[address] = true
}

// AddEdge records that consumer was derived from producer. The producer
// must already be registered; registering the same edge twice is a no-op,
// matching the store's idempotent write semantics.
func (g *Graph) AddEdge(consumer, producer string) error {
	if consumer == producer {
		return fmt.Errorf("artifact %s cannot consume itself", consumer)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.nodes[producer] {
		return fmt.Errorf("producer %s not registered", producer)
	}
	if g.nodes[consumer] && g.reachableLocked(consumer, producer) {
		return fmt.Errorf("edge %s -> %s would create a cycle", producer, consumer)
	}

	g.nodes[consumer] = true
	set, ok := g.consumers[producer]
	if !ok {
		set = make(map[string]bool)
		g.consumers[producer] = set
	}
	set[consumer] = true
	return nil
}

// DownstreamOf returns every artifact transitively derived from the given
// address, in deterministic (sorted) order. The address itself is excluded.
func (g *Graph) DownstreamOf(address string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{address: true}
	queue := []string{address}
	var result []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.consumers[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			result = append(result, next)
			queue = append(queue, next)
		}
	}

	sort.Strings(result)
	return result
}

// Invalidate marks an address invalid with a reason. The node and its edges
// are preserved for the audit trail.
func (g *Graph) Invalidate(address, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nodes[address] {
		g.invalidated[address] = reason
	}
}

// InvalidationReason returns the recorded reason and whether the address is
// invalidated.
func (g *Graph) InvalidationReason(address string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	reason, ok := g.invalidated[address]
	return reason, ok
}

// Has reports whether an address is registered.
func (g *Graph) Has(address string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[address]
}

// Len returns the number of registered artifacts.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// reachableLocked reports whether to is reachable from from following
// consumer edges. Caller holds the lock.
func (g *Graph) reachableLocked(from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.consumers[cur] {
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}
