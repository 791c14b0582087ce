/*
Copyright © 2025 Joseph Goksu josephgoksu@gmail.com
*/
package types

import (
	"errors"
)

// Sentinel errors for the fatal, non-retryable failure classes.
// Retrying any of these without changing the task cannot succeed,
// so callers surface them immediately instead of consulting retry policy.
var (
	// ErrPlanningInfeasible means the objective cannot be satisfied from the
	// given inputs and constraints. Terminal and user-visible.
	ErrPlanningInfeasible = errors.New("planning infeasible")

	// ErrCapabilityUnavailable means no registered capability can produce a
	// required output schema.
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrInvalidPatch means a plan patch produced a malformed DAG. This is a
	// programming-level bug signal, not a runtime retry condition.
	ErrInvalidPatch = errors.New("invalid patch")

	// ErrBudgetExceeded means the cumulative cost or elapsed time for a plan
	// crossed the task constraints before all steps completed.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrIrreversibleSideEffect means an invalidated artifact was produced by
	// a side-effecting step with no declared compensation.
	ErrIrreversibleSideEffect = errors.New("irreversible side effect")

	// ErrNotFound is returned by stores and the ledger for missing records.
	ErrNotFound = errors.New("not found")
)
