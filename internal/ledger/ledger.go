// Package ledger is the durable audit record of the engine: every plan
// version, controller decision, provenance record, checkpoint, and
// escalation lands here, append-only, keyed by plan. Post-mortems replay
// the trail instead of guessing from logs.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/josephgoksu/PlanWing/internal/artifact"
	"github.com/josephgoksu/PlanWing/internal/contract"
	"github.com/josephgoksu/PlanWing/types"
)

// DecisionEvent is one appended entry of a plan's decision trail.
type DecisionEvent struct {
	ID          int64     `json:"id"`
	PlanID      string    `json:"plan_id"`
	PlanVersion int       `json:"plan_version"`
	StepID      string    `json:"step_id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ledger is a SQLite-backed append-only store. It owns the database handle;
// the retrospect job store shares it via DB().
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database. Pass ":memory:" for tests.
func Open(path string) (*Ledger, error) {
	dbPath := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
		dbPath = path
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return l, nil
}

// initSchema creates the database tables if they don't exist.
func (l *Ledger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS briefs (
		id TEXT PRIMARY KEY,
		objective TEXT NOT NULL,
		body TEXT NOT NULL,               -- full TaskBrief as JSON
		created_at TEXT NOT NULL
	);

	-- One row per plan version. Step sets are immutable once written;
	-- status is the only column that ever changes.
	CREATE TABLE IF NOT EXISTS plan_versions (
		plan_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		parent_version INTEGER NOT NULL,
		patch_note TEXT,
		status TEXT NOT NULL,
		brief_id TEXT NOT NULL,
		steps TEXT NOT NULL,              -- []PlanStep as JSON
		step_hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (plan_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_plan_versions_brief ON plan_versions(brief_id);
	CREATE INDEX IF NOT EXISTS idx_plan_versions_status ON plan_versions(status);

	-- Append-only decision trail, keyed by plan.
	CREATE TABLE IF NOT EXISTS decision_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		step_id TEXT,
		attempt INTEGER DEFAULT 0,
		action TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decision_events_plan ON decision_events(plan_id);

	-- Append-only provenance, one row per produced artifact.
	CREATE TABLE IF NOT EXISTS provenance (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_address TEXT NOT NULL,
		output_name TEXT NOT NULL,
		step_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		consumed_addresses TEXT,          -- JSON array
		executor_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_provenance_artifact ON provenance(artifact_address);
	CREATE INDEX IF NOT EXISTS idx_provenance_plan ON provenance(plan_id);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		plan_version INTEGER NOT NULL,
		completed_steps TEXT NOT NULL,    -- JSON array of step IDs
		artifacts TEXT NOT NULL,          -- JSON map output name -> address
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_plan ON checkpoints(plan_id);

	CREATE TABLE IF NOT EXISTS escalations (
		id TEXT PRIMARY KEY,
		severity TEXT NOT NULL,
		plan_id TEXT,
		step_id TEXT,
		reason TEXT NOT NULL,
		violation TEXT,
		irreversible INTEGER DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_escalations_plan ON escalations(plan_id);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// DB returns the underlying database handle.
// This allows the retrospect job store to share the same connection.
func (l *Ledger) DB() *sql.DB {
	return l.db
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// === Briefs ===

// SaveBrief stores a task brief.
func (l *Ledger) SaveBrief(b contract.TaskBrief) error {
	body, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}
	_, err = l.db.Exec(`
		INSERT INTO briefs (id, objective, body, created_at)
		VALUES (?, ?, ?, ?)
	`, b.ID, b.Objective, string(body), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert brief: %w", err)
	}
	return nil
}

// GetBrief retrieves a brief by ID.
func (l *Ledger) GetBrief(id string) (contract.TaskBrief, error) {
	var body string
	err := l.db.QueryRow("SELECT body FROM briefs WHERE id = ?", id).Scan(&body)
	if err == sql.ErrNoRows {
		return contract.TaskBrief{}, fmt.Errorf("brief %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return contract.TaskBrief{}, fmt.Errorf("query brief: %w", err)
	}
	var b contract.TaskBrief
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return contract.TaskBrief{}, fmt.Errorf("unmarshal brief: %w", err)
	}
	return b, nil
}

// === Plan versions ===

// SavePlanVersion appends a new plan version. Writing the same (plan, version)
// twice is an error: versions are immutable.
func (l *Ledger) SavePlanVersion(p *contract.Plan) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = l.db.Exec(`
		INSERT INTO plan_versions (plan_id, version, parent_version, patch_note, status, brief_id, steps, step_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Version, p.ParentVersion, p.PatchNote, string(p.Status), p.BriefID,
		string(steps), p.Hash(), p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert plan version: %w", err)
	}
	return nil
}

// UpdatePlanStatus transitions one plan version's status.
func (l *Ledger) UpdatePlanStatus(planID string, version int, status contract.PlanStatus) error {
	result, err := l.db.Exec(`
		UPDATE plan_versions SET status = ? WHERE plan_id = ? AND version = ?
	`, string(status), planID, version)
	if err != nil {
		return fmt.Errorf("update plan status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("plan %s v%d: %w", planID, version, types.ErrNotFound)
	}
	return nil
}

// SupersedePlan atomically marks the old version superseded and records the
// new version as active. The new version must not start executing until
// this commit succeeds; the coordinator relies on that ordering.
func (l *Ledger) SupersedePlan(old *contract.Plan, next *contract.Plan) error {
	steps, err := json.Marshal(next.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.Exec(`
		UPDATE plan_versions SET status = ? WHERE plan_id = ? AND version = ?
	`, string(contract.PlanStatusSuperseded), old.ID, old.Version)
	if err != nil {
		return fmt.Errorf("supersede v%d: %w", old.Version, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("plan %s v%d: %w", old.ID, old.Version, types.ErrNotFound)
	}

	_, err = tx.Exec(`
		INSERT INTO plan_versions (plan_id, version, parent_version, patch_note, status, brief_id, steps, step_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, next.ID, next.Version, next.ParentVersion, next.PatchNote,
		string(contract.PlanStatusActive), next.BriefID, string(steps), next.Hash(),
		next.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert v%d: %w", next.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetPlan retrieves one plan version.
func (l *Ledger) GetPlan(planID string, version int) (*contract.Plan, error) {
	row := l.db.QueryRow(`
		SELECT plan_id, version, parent_version, patch_note, status, brief_id, steps, created_at
		FROM plan_versions WHERE plan_id = ? AND version = ?
	`, planID, version)
	return scanPlan(row)
}

// LatestPlan retrieves the highest version of a plan.
func (l *Ledger) LatestPlan(planID string) (*contract.Plan, error) {
	row := l.db.QueryRow(`
		SELECT plan_id, version, parent_version, patch_note, status, brief_id, steps, created_at
		FROM plan_versions WHERE plan_id = ? ORDER BY version DESC LIMIT 1
	`, planID)
	return scanPlan(row)
}

// ListPlanVersions returns all versions of a plan, oldest first.
func (l *Ledger) ListPlanVersions(planID string) ([]*contract.Plan, error) {
	rows, err := l.db.Query(`
		SELECT plan_id, version, parent_version, patch_note, status, brief_id, steps, created_at
		FROM plan_versions WHERE plan_id = ? ORDER BY version
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query plan versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var plans []*contract.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*contract.Plan, error) {
	var p contract.Plan
	var status, stepsJSON, createdAt string
	var patchNote sql.NullString

	err := row.Scan(&p.ID, &p.Version, &p.ParentVersion, &patchNote, &status,
		&p.BriefID, &stepsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan version: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}

	p.PatchNote = patchNote.String
	p.Status = contract.PlanStatus(status)
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &p, nil
}

// === Decision trail ===

// RecordDecision appends one decision event.
func (l *Ledger) RecordDecision(e DecisionEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(`
		INSERT INTO decision_events (plan_id, plan_version, step_id, attempt, action, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.PlanID, e.PlanVersion, e.StepID, e.Attempt, e.Action, e.Reason,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert decision event: %w", err)
	}
	return nil
}

// DecisionTrail returns a plan's decision events in append order.
func (l *Ledger) DecisionTrail(planID string) ([]DecisionEvent, error) {
	rows, err := l.db.Query(`
		SELECT id, plan_id, plan_version, step_id, attempt, action, reason, created_at
		FROM decision_events WHERE plan_id = ? ORDER BY id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query decision events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []DecisionEvent
	for rows.Next() {
		var e DecisionEvent
		var stepID, reason sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.PlanID, &e.PlanVersion, &stepID, &e.Attempt,
			&e.Action, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision event: %w", err)
		}
		e.StepID = stepID.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// === Provenance ===

// RecordProvenance appends a provenance record. Implements the executor's
// ProvenanceRecorder.
func (l *Ledger) RecordProvenance(p artifact.Provenance) error {
	consumed, err := json.Marshal(p.ConsumedAddresses)
	if err != nil {
		return fmt.Errorf("marshal consumed addresses: %w", err)
	}
	_, err = l.db.Exec(`
		INSERT INTO provenance (artifact_address, output_name, step_id, plan_id, plan_version, consumed_addresses, executor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ArtifactAddress, p.OutputName, p.StepID, p.PlanID, p.PlanVersion,
		string(consumed), p.ExecutorID, p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert provenance: %w", err)
	}
	return nil
}

// ProvenanceFor returns all provenance records for an artifact address,
// oldest first. Re-derivation under replay appends a second record rather
// than replacing the first.
func (l *Ledger) ProvenanceFor(address string) ([]artifact.Provenance, error) {
	rows, err := l.db.Query(`
		SELECT artifact_address, output_name, step_id, plan_id, plan_version, consumed_addresses, executor_id, created_at
		FROM provenance WHERE artifact_address = ? ORDER BY id
	`, address)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanProvenance(rows)
}

// ProvenanceByPlan returns every provenance record a plan produced across
// all its versions.
func (l *Ledger) ProvenanceByPlan(planID string) ([]artifact.Provenance, error) {
	rows, err := l.db.Query(`
		SELECT artifact_address, output_name, step_id, plan_id, plan_version, consumed_addresses, executor_id, created_at
		FROM provenance WHERE plan_id = ? ORDER BY id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query provenance: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanProvenance(rows)
}

func scanProvenance(rows *sql.Rows) ([]artifact.Provenance, error) {
	var records []artifact.Provenance
	for rows.Next() {
		var p artifact.Provenance
		var consumed sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ArtifactAddress, &p.OutputName, &p.StepID, &p.PlanID,
			&p.PlanVersion, &consumed, &p.ExecutorID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		if consumed.Valid && consumed.String != "" && consumed.String != "null" {
			if err := json.Unmarshal([]byte(consumed.String), &p.ConsumedAddresses); err != nil {
				return nil, fmt.Errorf("unmarshal consumed addresses: %w", err)
			}
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, p)
	}
	return records, rows.Err()
}

// === Checkpoints ===

// SaveCheckpoint stores a replay boundary.
func (l *Ledger) SaveCheckpoint(c artifact.Checkpoint) error {
	completed, err := json.Marshal(c.CompletedSteps)
	if err != nil {
		return fmt.Errorf("marshal completed steps: %w", err)
	}
	artifacts, err := json.Marshal(c.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	_, err = l.db.Exec(`
		INSERT INTO checkpoints (id, plan_id, plan_version, completed_steps, artifacts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.PlanID, c.PlanVersion, string(completed), string(artifacts),
		c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns a plan's most recent checkpoint.
func (l *Ledger) LatestCheckpoint(planID string) (artifact.Checkpoint, error) {
	var c artifact.Checkpoint
	var completed, artifacts, createdAt string
	err := l.db.QueryRow(`
		SELECT id, plan_id, plan_version, completed_steps, artifacts, created_at
		FROM checkpoints WHERE plan_id = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, planID).Scan(&c.ID, &c.PlanID, &c.PlanVersion, &completed, &artifacts, &createdAt)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("checkpoint for %s: %w", planID, types.ErrNotFound)
	}
	if err != nil {
		return c, fmt.Errorf("query checkpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(completed), &c.CompletedSteps); err != nil {
		return c, fmt.Errorf("unmarshal completed steps: %w", err)
	}
	if err := json.Unmarshal([]byte(artifacts), &c.Artifacts); err != nil {
		return c, fmt.Errorf("unmarshal artifacts: %w", err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return c, nil
}

// === Escalations ===

// EscalationRecord mirrors a routed escalation for persistence.
type EscalationRecord struct {
	ID           string
	Severity     string
	PlanID       string
	StepID       string
	Reason       string
	Violation    string
	Irreversible bool
	CreatedAt    time.Time
}

// RecordEscalation stores a routed escalation.
func (l *Ledger) RecordEscalation(e EscalationRecord) error {
	irr := 0
	if e.Irreversible {
		irr = 1
	}
	_, err := l.db.Exec(`
		INSERT INTO escalations (id, severity, plan_id, step_id, reason, violation, irreversible, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Severity, e.PlanID, e.StepID, e.Reason, e.Violation, irr,
		e.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

// Escalations returns all escalations for a plan, oldest first.
func (l *Ledger) Escalations(planID string) ([]EscalationRecord, error) {
	rows, err := l.db.Query(`
		SELECT id, severity, plan_id, step_id, reason, violation, irreversible, created_at
		FROM escalations WHERE plan_id = ? ORDER BY created_at, id
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []EscalationRecord
	for rows.Next() {
		var e EscalationRecord
		var planID, stepID, violation sql.NullString
		var irr int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Severity, &planID, &stepID, &e.Reason,
			&violation, &irr, &createdAt); err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		e.PlanID = planID.String
		e.StepID = stepID.String
		e.Violation = violation.String
		e.Irreversible = irr != 0
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		records = append(records, e)
	}
	return records, rows.Err()
}

// === ID prefix resolution ===

// FindPlanIDsByPrefix implements util.IDPrefixResolver.
func (l *Ledger) FindPlanIDsByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT DISTINCT plan_id FROM plan_versions WHERE plan_id LIKE ? || '%' ORDER BY plan_id
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query plan IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

// FindBriefIDsByPrefix implements util.IDPrefixResolver.
func (l *Ledger) FindBriefIDsByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id FROM briefs WHERE id LIKE ? || '%' ORDER BY id
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("query brief IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
