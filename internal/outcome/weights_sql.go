package outcome

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
)

// SetEdgeWeight upserts a mapping edge after checking the source node's
// outgoing weight budget. The read-sum-then-write sequence runs under a
// per-source lock so two concurrent edits cannot both see a stale sum and
// jointly overshoot the budget.
func (s *SQLStore) SetEdgeWeight(ctx context.Context, e Edge) error {
	if err := validWeight(e.Weight); err != nil {
		return err
	}
	table, src, tgt, err := edgeTable(e.Kind)
	if err != nil {
		return err
	}

	courseID, err := s.checkEdgeScope(ctx, e)
	if err != nil {
		return err
	}

	key := string(e.Kind) + "|" + e.SourceID
	s.mu.Lock(key)
	defer s.mu.Unlock(key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var sum sql.NullFloat64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(weight),0) FROM `+table+` WHERE `+src+`=$1 AND `+tgt+`<>$2`,
		e.SourceID, e.TargetID).Scan(&sum)
	if err != nil {
		return eris.Wrap(err, "sum outgoing weights")
	}
	if sum.Float64+e.Weight > 1+Epsilon {
		return &WeightBudgetError{SourceID: e.SourceID, Requested: e.Weight, Remaining: 1 - sum.Float64}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+table+` (`+src+`,`+tgt+`,weight) VALUES ($1,$2,$3)
		 ON CONFLICT (`+src+`,`+tgt+`) DO UPDATE SET weight=EXCLUDED.weight`,
		e.SourceID, e.TargetID, e.Weight)
	if err != nil {
		return eris.Wrap(err, "upsert edge")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit edge")
	}

	if s.events != nil {
		s.events.WeightChanged(ctx, e, courseID)
	}
	return nil
}

// DeleteEdge removes a mapping edge; a weight of zero is expressed by
// deleting, never by storing 0.
func (s *SQLStore) DeleteEdge(ctx context.Context, e Edge) error {
	table, src, tgt, err := edgeTable(e.Kind)
	if err != nil {
		return err
	}
	courseID, err := s.edgeCourse(ctx, e)
	if err != nil {
		return err
	}

	key := string(e.Kind) + "|" + e.SourceID
	s.mu.Lock(key)
	defer s.mu.Unlock(key)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE `+src+`=$1 AND `+tgt+`=$2`, e.SourceID, e.TargetID)
	if err != nil {
		return eris.Wrap(err, "delete edge")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if s.events != nil {
		e.Weight = 0
		s.events.WeightChanged(ctx, e, courseID)
	}
	return nil
}

// RemainingBudget reports the unallocated outgoing weight for a source node.
func (s *SQLStore) RemainingBudget(ctx context.Context, kind EdgeKind, sourceID string) (float64, error) {
	table, src, _, err := edgeTable(kind)
	if err != nil {
		return 0, err
	}
	var sum sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(weight),0) FROM `+table+` WHERE `+src+`=$1`, sourceID).Scan(&sum)
	if err != nil {
		return 0, eris.Wrap(err, "sum outgoing weights")
	}
	return 1 - sum.Float64, nil
}

func edgeTable(kind EdgeKind) (table, src, tgt string, err error) {
	switch kind {
	case EdgeAssessmentLO:
		return "assessment_lo_weights", "assessment_id", "outcome_id", nil
	case EdgeLOPO:
		return "lo_po_weights", "outcome_id", "program_outcome_id", nil
	default:
		return "", "", "", &ValidationError{Field: "kind", Reason: "unknown edge kind " + string(kind)}
	}
}

// checkEdgeScope verifies both endpoints exist and sit in the same course
// (assessment→LO) or the same program and term (LO→PO). Returns the course
// that owns the edge for event scoping.
func (s *SQLStore) checkEdgeScope(ctx context.Context, e Edge) (string, error) {
	switch e.Kind {
	case EdgeAssessmentLO:
		var aCourse, loCourse string
		err := s.db.QueryRowContext(ctx,
			`SELECT course_id FROM assessments WHERE id=$1`, e.SourceID).Scan(&aCourse)
		if errors.Is(err, sql.ErrNoRows) {
			return "", &ReferentialError{Reason: "assessment " + e.SourceID + " does not exist"}
		}
		if err != nil {
			return "", eris.Wrap(err, "lookup assessment")
		}
		err = s.db.QueryRowContext(ctx,
			`SELECT course_id FROM learning_outcomes WHERE id=$1`, e.TargetID).Scan(&loCourse)
		if errors.Is(err, sql.ErrNoRows) {
			return "", &ReferentialError{Reason: "learning outcome " + e.TargetID + " does not exist"}
		}
		if err != nil {
			return "", eris.Wrap(err, "lookup learning outcome")
		}
		if aCourse != loCourse {
			return "", &ReferentialError{Reason: "assessment and learning outcome belong to different courses"}
		}
		return aCourse, nil

	case EdgeLOPO:
		var loCourse, courseProgram, courseTerm string
		err := s.db.QueryRowContext(ctx,
			`SELECT lo.course_id, c.program_id, c.term_id
			 FROM learning_outcomes lo JOIN courses c ON c.id = lo.course_id
			 WHERE lo.id=$1`, e.SourceID).Scan(&loCourse, &courseProgram, &courseTerm)
		if errors.Is(err, sql.ErrNoRows) {
			return "", &ReferentialError{Reason: "learning outcome " + e.SourceID + " does not exist"}
		}
		if err != nil {
			return "", eris.Wrap(err, "lookup learning outcome")
		}
		var poProgram, poTerm string
		err = s.db.QueryRowContext(ctx,
			`SELECT program_id, term_id FROM program_outcomes WHERE id=$1`, e.TargetID).
			Scan(&poProgram, &poTerm)
		if errors.Is(err, sql.ErrNoRows) {
			return "", &ReferentialError{Reason: "program outcome " + e.TargetID + " does not exist"}
		}
		if err != nil {
			return "", eris.Wrap(err, "lookup program outcome")
		}
		if poProgram != courseProgram || poTerm != courseTerm {
			return "", &ReferentialError{Reason: "program outcome is outside the course's program or term"}
		}
		return loCourse, nil

	default:
		return "", &ValidationError{Field: "kind", Reason: "unknown edge kind " + string(e.Kind)}
	}
}

// edgeCourse resolves the owning course without the scope checks; used for
// deletes where the edge already exists.
func (s *SQLStore) edgeCourse(ctx context.Context, e Edge) (string, error) {
	var courseID string
	var err error
	switch e.Kind {
	case EdgeAssessmentLO:
		err = s.db.QueryRowContext(ctx,
			`SELECT course_id FROM assessments WHERE id=$1`, e.SourceID).Scan(&courseID)
	case EdgeLOPO:
		err = s.db.QueryRowContext(ctx,
			`SELECT course_id FROM learning_outcomes WHERE id=$1`, e.SourceID).Scan(&courseID)
	default:
		return "", &ValidationError{Field: "kind", Reason: "unknown edge kind " + string(e.Kind)}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return courseID, eris.Wrap(err, "resolve edge course")
}
