// Package util provides shared utility functions.
package util

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Standard ID lengths for PlanWing entities.
const (
	// PlanIDLength is the full length of a plan ID (e.g., "plan-abcdef12").
	PlanIDLength = 13 // "plan-" (5) + 8 hex chars
	// BriefIDLength is the full length of a brief ID (e.g., "brief-abcdef12").
	BriefIDLength = 14 // "brief-" (6) + 8 hex chars
	// DefaultShortIDLength is the default number of characters for short IDs.
	DefaultShortIDLength = 8
	// MaxAmbiguousCandidates is the max number of candidates to show in ambiguous error.
	MaxAmbiguousCandidates = 5
)

// Errors returned by ID resolution functions.
var (
	ErrAmbiguousID = errors.New("ambiguous ID prefix")
	ErrNotFound    = errors.New("not found")
)

// NewPlanID returns a fresh plan identifier, stable across the plan's versions.
func NewPlanID() string {
	return "plan-" + uuid.New().String()[:8]
}

// NewBriefID returns a fresh task brief identifier.
func NewBriefID() string {
	return "brief-" + uuid.New().String()[:8]
}

// NewStepID returns a step identifier scoped by its output name.
func NewStepID(output string) string {
	return fmt.Sprintf("step-%s-%s", output, uuid.New().String()[:8])
}

// NewJobID returns a retrospect job identifier.
func NewJobID() string {
	return "job-" + uuid.New().String()[:8]
}

// ShortID returns a shortened version of an ID.
// If n is 0 or negative, DefaultShortIDLength (8) is used.
// The function preserves the prefix (e.g., "plan-" or "brief-") and truncates the suffix.
//
// Examples:
//
//	ShortID("plan-abcdef12", 0) → "plan-abc" (8 chars total including prefix)
//	ShortID("plan-abcdef12", 10) → "plan-abcde" (10 chars total)
//	ShortID("brief-xyz", 20) → "brief-xyz" (no truncation if shorter)
func ShortID(id string, n int) string {
	if n <= 0 {
		n = DefaultShortIDLength
	}
	if len(id) <= n {
		return id
	}
	return id[:n]
}

// IDPrefixResolver provides methods to find IDs by prefix.
// This is implemented by the ledger.
type IDPrefixResolver interface {
	FindPlanIDsByPrefix(ctx context.Context, prefix string) ([]string, error)
	FindBriefIDsByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// ResolvePlanID resolves a plan ID or prefix to a full plan ID.
//
// Resolution rules:
//  1. If idOrPrefix is a full-length ID and exists, return it.
//  2. If idOrPrefix matches exactly one plan ID prefix, return that ID.
//  3. If multiple matches, return ErrAmbiguousID with candidates.
//  4. If no matches, return ErrNotFound.
func ResolvePlanID(ctx context.Context, resolver IDPrefixResolver, idOrPrefix string) (string, error) {
	if idOrPrefix == "" {
		return "", fmt.Errorf("plan ID: %w", ErrNotFound)
	}

	// Normalize: if no prefix, assume plan prefix
	normalized := idOrPrefix
	if !strings.HasPrefix(normalized, "plan-") {
		normalized = "plan-" + normalized
	}

	candidates, err := resolver.FindPlanIDsByPrefix(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("find plan IDs: %w", err)
	}

	return resolveFromCandidates(normalized, candidates, "plan")
}

// ResolveBriefID resolves a brief ID or prefix to a full brief ID.
//
// Resolution rules mirror ResolvePlanID with the "brief-" prefix.
func ResolveBriefID(ctx context.Context, resolver IDPrefixResolver, idOrPrefix string) (string, error) {
	if idOrPrefix == "" {
		return "", fmt.Errorf("brief ID: %w", ErrNotFound)
	}

	// Normalize: if no prefix, assume brief prefix
	normalized := idOrPrefix
	if !strings.HasPrefix(normalized, "brief-") {
		normalized = "brief-" + normalized
	}

	candidates, err := resolver.FindBriefIDsByPrefix(ctx, normalized)
	if err != nil {
		return "", fmt.Errorf("find brief IDs: %w", err)
	}

	return resolveFromCandidates(normalized, candidates, "brief")
}

// resolveFromCandidates handles the common resolution logic.
func resolveFromCandidates(prefix string, candidates []string, entityType string) (string, error) {
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("%s with prefix %q: %w", entityType, prefix, ErrNotFound)
	case 1:
		return candidates[0], nil
	default:
		// Ambiguous: multiple matches
		shown := candidates
		if len(shown) > MaxAmbiguousCandidates {
			shown = shown[:MaxAmbiguousCandidates]
		}
		return "", fmt.Errorf("%w: prefix %q matches %d %ss: %v",
			ErrAmbiguousID, prefix, len(candidates), entityType, shown)
	}
}
