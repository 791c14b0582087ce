// Package artifact defines content-addressed step outputs and the
// append-only records describing how they were produced.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the validity state of an artifact. Invalidation never
// deletes: the content and provenance chain are preserved for audit.
type Status string

const (
	StatusValid       Status = "valid"
	StatusInvalidated Status = "invalidated"
)

// Artifact is a content-addressed unit of step output. Identical content
// always yields the identical address, which is what makes repeated writes
// idempotent and replay safe.
type Artifact struct {
	Address     string    `json:"address"` // sha256 of canonical JSON content
	Name        string    `json:"name"`    // Output name within the plan
	StepID      string    `json:"step_id"` // Producing step
	PlanID      string    `json:"plan_id"`
	PlanVersion int       `json:"plan_version"`
	Content     []byte    `json:"content"` // Canonical JSON encoding of the value
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// New builds an artifact from a step output value. The value is encoded to
// canonical JSON (map keys sorted by encoding/json) before hashing.
func New(name string, value any, stepID, planID string, planVersion int) (Artifact, error) {
	content, err := json.Marshal(value)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode artifact %s: %w", name, err)
	}
	return Artifact{
		Address:     AddressOf(content),
		Name:        name,
		StepID:      stepID,
		PlanID:      planID,
		PlanVersion: planVersion,
		Content:     content,
		Status:      StatusValid,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// AddressOf returns the content address for a byte payload.
func AddressOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Value decodes the artifact content back into a Go value.
func (a *Artifact) Value() (any, error) {
	var v any
	if err := json.Unmarshal(a.Content, &v); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", a.Address, err)
	}
	return v, nil
}

// Provenance records how one artifact came to exist. Append-only, never
// mutated; invalidation marks the artifact, not its provenance.
type Provenance struct {
	ArtifactAddress   string    `json:"artifact_address"`
	OutputName        string    `json:"output_name"`
	StepID            string    `json:"step_id"`
	PlanID            string    `json:"plan_id"`
	PlanVersion       int       `json:"plan_version"`
	ConsumedAddresses []string  `json:"consumed_addresses,omitempty"`
	ExecutorID        string    `json:"executor_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Checkpoint is a durable marker that plan execution reached a state with
// the given accepted artifacts. Replay resumes from the newest checkpoint
// whose artifacts survived invalidation.
type Checkpoint struct {
	ID             string            `json:"id"`
	PlanID         string            `json:"plan_id"`
	PlanVersion    int               `json:"plan_version"`
	CompletedSteps []string          `json:"completed_steps"`
	Artifacts      map[string]string `json:"artifacts"` // output name -> address
	CreatedAt      time.Time         `json:"created_at"`
}
