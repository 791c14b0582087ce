package contract

import (
	"errors"
	"fmt"
	"sort"
)

// VerifyDAG checks if the given steps form a valid Directed Acyclic Graph.
// It detects cycles among the steps' dependency edges.
func VerifyDAG(steps []PlanStep) error {
	stepMap := make(map[string]PlanStep)
	for _, s := range steps {
		if s.ID == "" {
			return errors.New("step ID cannot be empty")
		}
		stepMap[s.ID] = s
	}

	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var checkCycle func(stepID string) error
	checkCycle = func(stepID string) error {
		visited[stepID] = true
		recursionStack[stepID] = true

		step, exists := stepMap[stepID]
		if !exists {
			// Dependency on a step outside the slice: already-satisfied
			// work from a prior version during selective replay.
			recursionStack[stepID] = false
			return nil
		}

		for _, depID := range step.DependsOn {
			if !visited[depID] {
				if err := checkCycle(depID); err != nil {
					return err
				}
			} else if recursionStack[depID] {
				return fmt.Errorf("cycle detected involving step %s -> %s", stepID, depID)
			}
		}

		recursionStack[stepID] = false
		return nil
	}

	for _, s := range steps {
		if !visited[s.ID] {
			if err := checkCycle(s.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

// TopologicalSort returns steps in dependency order (dependencies first).
// Returns error if cycle detected.
func TopologicalSort(steps []PlanStep) ([]PlanStep, error) {
	if err := VerifyDAG(steps); err != nil {
		return nil, err
	}

	stepMap := make(map[string]PlanStep)
	for _, s := range steps {
		stepMap[s.ID] = s
	}

	var sorted []PlanStep
	visited := make(map[string]bool)

	var visit func(stepID string)
	visit = func(stepID string) {
		if visited[stepID] {
			return
		}
		visited[stepID] = true

		s, exists := stepMap[stepID]
		if !exists {
			return
		}

		for _, depID := range s.DependsOn {
			visit(depID)
		}
		sorted = append(sorted, s)
	}

	for _, s := range steps {
		visit(s.ID)
	}

	return sorted, nil
}

// ReadySteps returns the IDs of steps whose dependencies are all satisfied
// and which are not themselves done. Output order is deterministic so the
// scheduler's dispatch order is reproducible.
func ReadySteps(steps []PlanStep, done map[string]bool) []string {
	var ready []string
	for _, s := range steps {
		if done[s.ID] {
			continue
		}
		ok := true
		for _, dep := range s.DependsOn {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, s.ID)
		}
	}
	sort.Strings(ready)
	return ready
}
