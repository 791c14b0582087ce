package retrospect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/store"
)

const (
	// DefaultWorkers is how many jobs run concurrently.
	DefaultWorkers = 2

	// DefaultPollInterval is how long an idle worker sleeps before asking
	// the job store again.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultCheckTimeout bounds a single deep check run. Deep checks may
	// call external systems, so unlike inline gates they get a generous
	// ceiling rather than a sub-second one.
	DefaultCheckTimeout = 5 * time.Minute
)

// Invalidator reacts to a failed deep check. Implemented by ReplayManager.
type Invalidator interface {
	Invalidate(ctx context.Context, address, reason string) (*ReplayPlan, error)
}

// Runner drains the retrospect job queue in the background. It implements
// verify.Scheduler, so the executor can hand it accepted artifacts without
// knowing anything about jobs or workers. A check verdict never reaches
// back into the coordinator loop: passed jobs are simply recorded, and
// failed jobs go through the Invalidator, which produces a new plan version
// for the coordinator to pick up on its own terms.
type Runner struct {
	jobs        *JobStore
	checks      *CheckRegistry
	artifacts   store.ArtifactStore
	invalidator Invalidator

	workers      int
	pollInterval time.Duration
	checkTimeout time.Duration

	wg sync.WaitGroup
}

// NewRunner creates a runner over the shared job store. The invalidator may
// be nil, in which case failed checks are recorded but trigger no replay.
func NewRunner(jobs *JobStore, checks *CheckRegistry, artifacts store.ArtifactStore, inv Invalidator) *Runner {
	return &Runner{
		jobs:         jobs,
		checks:       checks,
		artifacts:    artifacts,
		invalidator:  inv,
		workers:      DefaultWorkers,
		pollInterval: DefaultPollInterval,
		checkTimeout: DefaultCheckTimeout,
	}
}

// SetWorkers adjusts the worker count. Must be called before Start.
func (r *Runner) SetWorkers(n int) {
	if n > 0 {
		r.workers = n
	}
}

// SetPollInterval adjusts the idle poll interval. Must be called before Start.
func (r *Runner) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.pollInterval = d
	}
}

// Schedule implements verify.Scheduler: it enqueues a deferred deep check
// for an accepted artifact and returns immediately.
func (r *Runner) Schedule(art artifact.Artifact, deepCheckRef string) (string, error) {
	return r.jobs.Enqueue(Job{
		ArtifactAddress: art.Address,
		OutputName:      art.Name,
		CheckRef:        deepCheckRef,
		StepID:          art.StepID,
		PlanID:          art.PlanID,
		PlanVersion:     art.PlanVersion,
	})
}

// Start launches the worker pool. Workers run until ctx is canceled; call
// Wait to block until they have all drained.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok, err := r.jobs.ClaimNext(ctx)
		if err != nil {
			slog.Warn("retrospect claim failed", "error", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}
		r.runJob(ctx, job)
	}
}

// runJob executes one claimed job end to end. Operational failures (an
// unregistered check, missing artifact content) mark the job failed but do
// not invalidate: they say nothing about whether the content is sound.
func (r *Runner) runJob(ctx context.Context, job Job) {
	check, err := r.checks.Get(job.CheckRef)
	if err != nil {
		r.complete(job.ID, JobStatusFailed, fmt.Sprintf("unregistered deep check %s", job.CheckRef))
		return
	}
	content, err := r.artifacts.Get(job.ArtifactAddress)
	if err != nil {
		r.complete(job.ID, JobStatusFailed, fmt.Sprintf("load artifact: %v", err))
		return
	}
	art := artifact.Artifact{
		Address:     job.ArtifactAddress,
		Name:        job.OutputName,
		StepID:      job.StepID,
		PlanID:      job.PlanID,
		PlanVersion: job.PlanVersion,
		Content:     content,
		Status:      artifact.StatusValid,
	}

	runCtx, cancel := context.WithTimeout(ctx, r.checkTimeout)
	checkErr := check.Run(runCtx, art)
	cancel()

	if checkErr == nil {
		r.complete(job.ID, JobStatusPassed, "")
		return
	}

	reason := fmt.Sprintf("deep check %s failed: %v", job.CheckRef, checkErr)
	r.complete(job.ID, JobStatusFailed, reason)
	if r.invalidator == nil {
		return
	}
	if _, err := r.invalidator.Invalidate(ctx, job.ArtifactAddress, reason); err != nil {
		slog.Warn("invalidation after failed deep check did not complete",
			"artifact", job.ArtifactAddress, "check", job.CheckRef, "error", err)
	}
}

func (r *Runner) complete(jobID string, status JobStatus, detail string) {
	if err := r.jobs.Complete(jobID, status, detail); err != nil {
		slog.Warn("retrospect job completion failed", "job", jobID, "error", err)
	}
}
