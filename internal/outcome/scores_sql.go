package outcome

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/edumetrics/attain/internal/score"
)

// ContributionEdge is one LO→PO edge as seen from a student: the outcome,
// the program outcome it feeds, that outcome's term, and the edge weight.
type ContributionEdge struct {
	OutcomeID        string
	ProgramOutcomeID string
	TermID           string
	Weight           float64
}

// ScoreCommit is one student's recompute result, applied all-or-nothing.
type ScoreCommit struct {
	StudentID string
	LO        []OutcomeScoreRow
	RemoveLO  []string // outcome IDs whose rows are retired (unenrollment)
	PO        []ProgramScoreRow
}

// CommitScores applies a recompute result in a single transaction. On any
// failure nothing is written and the previous derived scores stay intact.
func (s *SQLStore) CommitScores(ctx context.Context, c ScoreCommit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer tx.Rollback()

	ts := now()
	for _, row := range c.LO {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO student_lo_scores (student_id,outcome_id,score,updated_at) VALUES ($1,$2,$3,$4)
			 ON CONFLICT (student_id,outcome_id) DO UPDATE SET score=EXCLUDED.score, updated_at=EXCLUDED.updated_at`,
			row.StudentID, row.OutcomeID, nullScore(row.Score), ts)
		if err != nil {
			return eris.Wrap(err, "upsert lo score")
		}
	}
	for _, outcomeID := range c.RemoveLO {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM student_lo_scores WHERE student_id=$1 AND outcome_id=$2`,
			c.StudentID, outcomeID)
		if err != nil {
			return eris.Wrap(err, "retire lo score")
		}
	}
	for _, row := range c.PO {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO student_po_scores (student_id,program_outcome_id,term_id,score,updated_at) VALUES ($1,$2,$3,$4,$5)
			 ON CONFLICT (student_id,program_outcome_id,term_id) DO UPDATE SET score=EXCLUDED.score, updated_at=EXCLUDED.updated_at`,
			row.StudentID, row.ProgramOutcomeID, row.TermID, nullScore(row.Score), ts)
		if err != nil {
			return eris.Wrap(err, "upsert po score")
		}
	}
	return eris.Wrap(tx.Commit(), "commit scores")
}

func nullScore(sc score.Score) sql.NullFloat64 {
	return sql.NullFloat64{Float64: sc.Value, Valid: sc.Valid}
}

func fromNull(v sql.NullFloat64) score.Score {
	return score.Score{Value: v.Float64, Valid: v.Valid}
}

// CourseEdges lists the assessment→LO weight edges owned by a course.
func (s *SQLStore) CourseEdges(ctx context.Context, courseID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.assessment_id, w.outcome_id, w.weight
		 FROM assessment_lo_weights w
		 JOIN assessments a ON a.id = w.assessment_id
		 WHERE a.course_id=$1`, courseID)
	if err != nil {
		return nil, eris.Wrap(err, "list course edges")
	}
	defer rows.Close()
	var out []Edge
	for rows.Next() {
		e := Edge{Kind: EdgeAssessmentLO}
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Weight); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StudentContributions lists every LO→PO edge whose learning outcome sits
// in a course the student is enrolled in. PO aggregation spans courses, so
// the coordinator needs the full set, not just one course's.
func (s *SQLStore) StudentContributions(ctx context.Context, studentID string) ([]ContributionEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.outcome_id, w.program_outcome_id, po.term_id, w.weight
		 FROM lo_po_weights w
		 JOIN learning_outcomes lo ON lo.id = w.outcome_id
		 JOIN program_outcomes po ON po.id = w.program_outcome_id
		 JOIN enrollments e ON e.course_id = lo.course_id
		 WHERE e.student_id=$1`, studentID)
	if err != nil {
		return nil, eris.Wrap(err, "list student contributions")
	}
	defer rows.Close()
	var out []ContributionEdge
	for rows.Next() {
		var c ContributionEdge
		if err := rows.Scan(&c.OutcomeID, &c.ProgramOutcomeID, &c.TermID, &c.Weight); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CourseContributions lists the LO→PO edges whose learning outcome belongs
// to the course, independent of any enrollment. Used to find the program
// outcomes a course feeds when retiring a student's scores.
func (s *SQLStore) CourseContributions(ctx context.Context, courseID string) ([]ContributionEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.outcome_id, w.program_outcome_id, po.term_id, w.weight
		 FROM lo_po_weights w
		 JOIN learning_outcomes lo ON lo.id = w.outcome_id
		 JOIN program_outcomes po ON po.id = w.program_outcome_id
		 WHERE lo.course_id=$1`, courseID)
	if err != nil {
		return nil, eris.Wrap(err, "list course contributions")
	}
	defer rows.Close()
	var out []ContributionEdge
	for rows.Next() {
		var c ContributionEdge
		if err := rows.Scan(&c.OutcomeID, &c.ProgramOutcomeID, &c.TermID, &c.Weight); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// OutcomeCourse resolves the course owning a learning outcome.
func (s *SQLStore) OutcomeCourse(ctx context.Context, outcomeID string) (string, error) {
	var courseID string
	err := s.db.QueryRowContext(ctx,
		`SELECT course_id FROM learning_outcomes WHERE id=$1`, outcomeID).Scan(&courseID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return courseID, eris.Wrap(err, "resolve outcome course")
}

// ProgramOutcomeTerm resolves the term a program outcome is scoped to.
func (s *SQLStore) ProgramOutcomeTerm(ctx context.Context, programOutcomeID string) (string, error) {
	var termID string
	err := s.db.QueryRowContext(ctx,
		`SELECT term_id FROM program_outcomes WHERE id=$1`, programOutcomeID).Scan(&termID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return termID, eris.Wrap(err, "resolve program outcome term")
}

// StudentLOScores returns the student's persisted LO scores across all
// courses, keyed for the PO roll-up.
func (s *SQLStore) StudentLOScores(ctx context.Context, studentID string) (map[string]score.Score, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome_id, score FROM student_lo_scores WHERE student_id=$1`, studentID)
	if err != nil {
		return nil, eris.Wrap(err, "load student lo scores")
	}
	defer rows.Close()
	out := map[string]score.Score{}
	for rows.Next() {
		var id string
		var v sql.NullFloat64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, err
		}
		out[id] = fromNull(v)
	}
	return out, rows.Err()
}

// OutcomeScores lists persisted per-student scores for one learning outcome.
func (s *SQLStore) OutcomeScores(ctx context.Context, outcomeID string) ([]OutcomeScoreRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, outcome_id, score FROM student_lo_scores WHERE outcome_id=$1 ORDER BY student_id`,
		outcomeID)
	if err != nil {
		return nil, eris.Wrap(err, "list outcome scores")
	}
	defer rows.Close()
	var out []OutcomeScoreRow
	for rows.Next() {
		var r OutcomeScoreRow
		var v sql.NullFloat64
		if err := rows.Scan(&r.StudentID, &r.OutcomeID, &v); err != nil {
			return nil, err
		}
		r.Score = fromNull(v)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProgramScores lists persisted per-student scores for one program outcome
// in one term.
func (s *SQLStore) ProgramScores(ctx context.Context, programOutcomeID, termID string) ([]ProgramScoreRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, program_outcome_id, term_id, score FROM student_po_scores
		 WHERE program_outcome_id=$1 AND term_id=$2 ORDER BY student_id`, programOutcomeID, termID)
	if err != nil {
		return nil, eris.Wrap(err, "list program scores")
	}
	defer rows.Close()
	var out []ProgramScoreRow
	for rows.Next() {
		var r ProgramScoreRow
		var v sql.NullFloat64
		if err := rows.Scan(&r.StudentID, &r.ProgramOutcomeID, &r.TermID, &v); err != nil {
			return nil, err
		}
		r.Score = fromNull(v)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CourseEvidence returns, for every enrolled student, one evidence entry
// per course assessment (graded or not), ready for weighted-average math.
func (s *SQLStore) CourseEvidence(ctx context.Context, courseID string) (map[string][]score.Evidence, error) {
	students, err := s.EnrolledStudents(ctx, courseID)
	if err != nil {
		return nil, err
	}
	assessments, err := s.ListCourseAssessments(ctx, courseID)
	if err != nil {
		return nil, err
	}

	// (student, assessment) -> raw score
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.student_id, g.assessment_id, g.raw_score FROM grades g
		 JOIN assessments a ON a.id = g.assessment_id WHERE a.course_id=$1`, courseID)
	if err != nil {
		return nil, eris.Wrap(err, "load course grades")
	}
	defer rows.Close()
	graded := map[string]map[string]float64{}
	for rows.Next() {
		var sid, aid string
		var raw float64
		if err := rows.Scan(&sid, &aid, &raw); err != nil {
			return nil, err
		}
		if graded[sid] == nil {
			graded[sid] = map[string]float64{}
		}
		graded[sid][aid] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make(map[string][]score.Evidence, len(students))
	for _, sid := range students {
		evidence := make([]score.Evidence, 0, len(assessments))
		for _, a := range assessments {
			ev := score.Evidence{Weight: a.Weight, TotalScore: a.TotalScore}
			if raw, ok := graded[sid][a.ID]; ok {
				ev.Graded = true
				ev.RawScore = raw
			}
			evidence = append(evidence, ev)
		}
		out[sid] = evidence
	}
	return out, nil
}

// AssessmentGrades lists the raw scores recorded for one assessment.
func (s *SQLStore) AssessmentGrades(ctx context.Context, assessmentID string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_score FROM grades WHERE assessment_id=$1`, assessmentID)
	if err != nil {
		return nil, eris.Wrap(err, "list assessment grades")
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
