package outcome

import (
	"errors"
	"fmt"
)

// Epsilon absorbs float error when summing weight budgets.
const Epsilon = 1e-6

var ErrNotFound = errors.New("not found")

// ValidationError rejects caller-correctable input: out-of-range scores,
// weights outside (0,1], malformed identifiers. Nothing is committed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// WeightBudgetError rejects an edge weight that would push a source node's
// outgoing sum above 1. Remaining is the budget still available so callers
// can clamp and retry.
type WeightBudgetError struct {
	SourceID  string
	Requested float64
	Remaining float64
}

func (e *WeightBudgetError) Error() string {
	return fmt.Sprintf("weight budget exceeded for %s: requested %.4f, remaining %.4f",
		e.SourceID, e.Requested, e.Remaining)
}

// ReferentialError rejects facts that reference nodes outside their
// permitted scope, e.g. a grade for a student not enrolled in the
// assessment's course.
type ReferentialError struct {
	Reason string
}

func (e *ReferentialError) Error() string { return "referential violation: " + e.Reason }

func validWeight(w float64) error {
	if w <= 0 || w > 1 {
		return &ValidationError{Field: "weight", Reason: fmt.Sprintf("must be in (0,1], got %g", w)}
	}
	return nil
}
