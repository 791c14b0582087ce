/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/control"
	"github.com/josephgoksu/PlanWing/internal/engine"
	"github.com/josephgoksu/PlanWing/internal/exec"
	"github.com/josephgoksu/PlanWing/internal/ledger"
	"github.com/josephgoksu/PlanWing/internal/lineage"
	"github.com/josephgoksu/PlanWing/internal/planner"
	"github.com/josephgoksu/PlanWing/internal/policy"
	"github.com/josephgoksu/PlanWing/internal/registry"
	"github.com/josephgoksu/PlanWing/internal/retrospect"
	"github.com/josephgoksu/PlanWing/internal/verify"
	"github.com/josephgoksu/PlanWing/store"
)

// App wires the engine components a command needs. Each CLI invocation
// builds one App, uses it, and closes it.
type App struct {
	Ledger      *ledger.Ledger
	Artifacts   store.ArtifactStore
	Registry    *registry.Registry
	Policy      policy.Config
	Guards      *policy.Engine
	Graph       *lineage.Graph
	Jobs        *retrospect.JobStore
	Checks      *retrospect.CheckRegistry
	Runner      *retrospect.Runner
	Replay      *retrospect.ReplayManager
	Coordinator *engine.Coordinator

	runnerCancel context.CancelFunc
}

// NewApp assembles the full engine around the given planning strategy.
func NewApp(strategy planner.Strategy) (*App, error) {
	cfg := GetConfig()

	stateDir := filepath.Dir(LedgerPath())
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	led, err := ledger.Open(LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	artifacts, err := store.NewFileArtifactStore(afero.NewOsFs(), ArtifactsPath())
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	pol := policy.Default()
	if cfg.Policy.File != "" {
		pol, err = policy.Load(cfg.Policy.File)
		if err != nil {
			led.Close()
			return nil, fmt.Errorf("load policy: %w", err)
		}
	}

	guardFiles, err := policy.NewLoader(afero.NewOsFs(), PoliciesPath()).LoadAll()
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("load guards: %w", err)
	}

	jobs, err := retrospect.NewJobStore(led.DB())
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("open job store: %w", err)
	}

	reg := registry.NewBuiltinRegistry()
	graph := lineage.NewGraph()
	router := control.NewRouter(pol)
	replay := retrospect.NewReplayManager(led, graph, router)

	checks := retrospect.NewCheckRegistry()
	registerBuiltinChecks(checks)

	runner := retrospect.NewRunner(jobs, checks, artifacts, replay)
	if cfg.Engine.RetrospectWorkers > 0 {
		runner.SetWorkers(cfg.Engine.RetrospectWorkers)
	}

	verifier := verify.NewVerifier(runner)
	executor := exec.NewExecutor(reg, verifier, artifacts, graph, led, "planwing-cli")

	coord := engine.NewCoordinator(strategy, reg, executor, led, artifacts, pol)
	guards := policy.NewEngine(guardFiles)
	if guards.GuardCount() > 0 {
		coord.SetGuards(guards)
	}

	return &App{
		Ledger:      led,
		Artifacts:   artifacts,
		Registry:    reg,
		Policy:      pol,
		Guards:      guards,
		Graph:       graph,
		Jobs:        jobs,
		Checks:      checks,
		Runner:      runner,
		Replay:      replay,
		Coordinator: coord,
	}, nil
}

// StartRetrospect launches the background deep-check workers. DrainRetrospect
// stops them after the pending queue has had a chance to drain.
func (a *App) StartRetrospect(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	a.runnerCancel = cancel
	a.Runner.Start(runCtx)
}

// WaitForRetrospect blocks until no job for the plan is pending or running,
// or the timeout elapses. Jobs are durable, so anything still pending when
// the timeout fires is picked up by a later invocation.
func (a *App) WaitForRetrospect(planID string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		jobs, err := a.Jobs.ListByPlan(planID)
		if err != nil {
			return
		}
		open := false
		for _, j := range jobs {
			if j.Status == retrospect.JobStatusPending || j.Status == retrospect.JobStatusRunning {
				open = true
				break
			}
		}
		if !open {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (a *App) DrainRetrospect() {
	if a.runnerCancel == nil {
		return
	}
	a.runnerCancel()
	a.Runner.Wait()
	a.runnerCancel = nil
}

// Close releases the ledger. It stops the retrospect workers first if they
// are still running.
func (a *App) Close() error {
	a.DrainRetrospect()
	return a.Ledger.Close()
}

// registerBuiltinChecks installs the deep checks that ship with the engine.
// deep/integrity re-hashes stored content against its address and confirms
// the payload still decodes as JSON.
func registerBuiltinChecks(r *retrospect.CheckRegistry) {
	r.Register(&retrospect.CheckFunc{
		CheckRef: "deep/integrity",
		Fn: func(ctx context.Context, art artifact.Artifact) error {
			if got := artifact.AddressOf(art.Content); got != art.Address {
				return fmt.Errorf("content hash %s does not match address %s", got, art.Address)
			}
			var v any
			if err := json.Unmarshal(art.Content, &v); err != nil {
				return fmt.Errorf("decode artifact content: %w", err)
			}
			return nil
		},
	})
}
