// Package retrospect runs deferred deep checks against accepted artifacts
// and, when one fails, drives selective invalidation and replay. It is
// fully decoupled from the fast path: acceptance of a step's output is
// final for the coordinator loop regardless of what happens here.
package retrospect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/josephgoksu/PlanWing/internal/util"
	"github.com/josephgoksu/PlanWing/types"
)

// JobStatus is the lifecycle state of one retrospect job.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusPassed   JobStatus = "passed"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// Job is one deferred validation of an accepted artifact.
type Job struct {
	ID              string    `json:"id"`
	ArtifactAddress string    `json:"artifact_address"`
	OutputName      string    `json:"output_name"`
	CheckRef        string    `json:"check_ref"`
	StepID          string    `json:"step_id"`
	PlanID          string    `json:"plan_id"`
	PlanVersion     int       `json:"plan_version"`
	Status          JobStatus `json:"status"`
	Detail          string    `json:"detail,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// JobStore persists retrospect jobs. It shares the ledger's database handle
// so a job enqueue and the decision that caused it are in the same file.
type JobStore struct {
	db *sql.DB
}

// NewJobStore initializes the job table on the shared database.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS retrospect_jobs (
		id TEXT PRIMARY KEY,
		artifact_address TEXT NOT NULL,
		output_name TEXT NOT NULL,
		check_ref TEXT NOT NULL,
		step_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		detail TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_retrospect_jobs_status ON retrospect_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_retrospect_jobs_plan ON retrospect_jobs(plan_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init retrospect schema: %w", err)
	}
	return &JobStore{db: db}, nil
}

// Enqueue appends a pending job. A zero ID gets one generated.
func (s *JobStore) Enqueue(j Job) (string, error) {
	if j.ID == "" {
		j.ID = util.NewJobID()
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO retrospect_jobs (id, artifact_address, output_name, check_ref, step_id, plan_id, plan_version, status, detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.ArtifactAddress, j.OutputName, j.CheckRef, j.StepID, j.PlanID, j.PlanVersion,
		string(j.Status), j.Detail, j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("insert retrospect job: %w", err)
	}
	return j.ID, nil
}

// ClaimNext atomically moves the oldest pending job to running and returns
// it. The second return is false when no pending job exists.
func (s *JobStore) ClaimNext(ctx context.Context) (Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Job{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var j Job
	var status, createdAt, updatedAt string
	var detail sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT id, artifact_address, output_name, check_ref, step_id, plan_id, plan_version, status, detail, created_at, updated_at
		FROM retrospect_jobs WHERE status = 'pending' ORDER BY created_at, id LIMIT 1
	`).Scan(&j.ID, &j.ArtifactAddress, &j.OutputName, &j.CheckRef, &j.StepID, &j.PlanID,
		&j.PlanVersion, &status, &detail, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("query pending job: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE retrospect_jobs SET status = 'running', updated_at = ? WHERE id = ?
	`, now.Format(time.RFC3339), j.ID); err != nil {
		return Job{}, false, fmt.Errorf("claim job %s: %w", j.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return Job{}, false, fmt.Errorf("commit claim: %w", err)
	}

	j.Status = JobStatusRunning
	j.Detail = detail.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt = now
	return j, true, nil
}

// Complete records a job's terminal status and detail.
func (s *JobStore) Complete(id string, status JobStatus, detail string) error {
	result, err := s.db.Exec(`
		UPDATE retrospect_jobs SET status = ?, detail = ?, updated_at = ? WHERE id = ?
	`, string(status), detail, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(id string) (Job, error) {
	var j Job
	var status, createdAt, updatedAt string
	var detail sql.NullString
	err := s.db.QueryRow(`
		SELECT id, artifact_address, output_name, check_ref, step_id, plan_id, plan_version, status, detail, created_at, updated_at
		FROM retrospect_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.ArtifactAddress, &j.OutputName, &j.CheckRef, &j.StepID, &j.PlanID,
		&j.PlanVersion, &status, &detail, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return j, fmt.Errorf("job %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return j, fmt.Errorf("query job: %w", err)
	}
	j.Status = JobStatus(status)
	j.Detail = detail.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return j, nil
}

// ListByPlan returns all jobs scoped to a plan, oldest first.
func (s *JobStore) ListByPlan(planID string) ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT id, artifact_address, output_name, check_ref, step_id, plan_id, plan_version, status, detail, created_at, updated_at
		FROM retrospect_jobs WHERE plan_id = ? ORDER BY created_at, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		var j Job
		var status, createdAt, updatedAt string
		var detail sql.NullString
		if err := rows.Scan(&j.ID, &j.ArtifactAddress, &j.OutputName, &j.CheckRef, &j.StepID,
			&j.PlanID, &j.PlanVersion, &status, &detail, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Status = JobStatus(status)
		j.Detail = detail.String
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CancelPending cancels all pending jobs for a plan. Running jobs finish;
// task-level cancellation reaches them through their context.
func (s *JobStore) CancelPending(planID string) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE retrospect_jobs SET status = 'canceled', updated_at = ?
		WHERE plan_id = ? AND status = 'pending'
	`, time.Now().UTC().Format(time.RFC3339), planID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending jobs: %w", err)
	}
	return result.RowsAffected()
}
