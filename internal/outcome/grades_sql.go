package outcome

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
)

// UpsertGrade writes a raw score for (student, assessment). The score must
// sit in [0, total_score] and the student must be enrolled in the
// assessment's course. Reports whether the record was created (vs updated).
func (s *SQLStore) UpsertGrade(ctx context.Context, g GradeRecord) (created bool, err error) {
	a, err := s.GetAssessment(ctx, g.AssessmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, &ReferentialError{Reason: "assessment " + g.AssessmentID + " does not exist"}
		}
		return false, err
	}
	if g.RawScore < 0 || g.RawScore > a.TotalScore {
		return false, &ValidationError{
			Field:  "raw_score",
			Reason: fmt.Sprintf("must be in [0, %g], got %g", a.TotalScore, g.RawScore),
		}
	}
	enrolled, err := s.IsEnrolled(ctx, g.StudentID, a.CourseID)
	if err != nil {
		return false, err
	}
	if !enrolled {
		return false, &ReferentialError{
			Reason: "student " + g.StudentID + " is not enrolled in course " + a.CourseID,
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, eris.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM grades WHERE student_id=$1 AND assessment_id=$2`,
		g.StudentID, g.AssessmentID).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
	case err != nil:
		return false, eris.Wrap(err, "check grade")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO grades (student_id,assessment_id,raw_score,updated_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (student_id,assessment_id) DO UPDATE SET raw_score=EXCLUDED.raw_score, updated_at=EXCLUDED.updated_at`,
		g.StudentID, g.AssessmentID, g.RawScore, now())
	if err != nil {
		return false, eris.Wrap(err, "upsert grade")
	}
	if err := tx.Commit(); err != nil {
		return false, eris.Wrap(err, "commit grade")
	}

	if s.events != nil {
		s.events.GradeChanged(ctx, g.StudentID, a.CourseID)
	}
	return created, nil
}

func (s *SQLStore) DeleteGrade(ctx context.Context, studentID, assessmentID string) error {
	a, err := s.GetAssessment(ctx, assessmentID)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM grades WHERE student_id=$1 AND assessment_id=$2`, studentID, assessmentID)
	if err != nil {
		return eris.Wrap(err, "delete grade")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if s.events != nil {
		s.events.GradeChanged(ctx, studentID, a.CourseID)
	}
	return nil
}

// SkippedGrade is one rejected record from a bulk upsert, with the reason.
type SkippedGrade struct {
	Record GradeRecord `json:"record"`
	Reason string      `json:"reason"`
}

// BulkResult reports what a bulk grade upsert did. Affected maps course ID
// to the students whose derived scores are now stale.
type BulkResult struct {
	Created  int                 `json:"created"`
	Updated  int                 `json:"updated"`
	Skipped  []SkippedGrade      `json:"skipped"`
	Affected map[string][]string `json:"-"`
}

// BulkUpsertGrades validates each record, applies every accepted write in
// one transaction, and emits no events: the caller runs exactly one
// recompute pass per affected student afterwards. A concurrent reader never
// sees a partially applied batch.
func (s *SQLStore) BulkUpsertGrades(ctx context.Context, records []GradeRecord) (BulkResult, error) {
	res := BulkResult{Affected: map[string][]string{}}

	type accepted struct {
		rec      GradeRecord
		courseID string
	}
	var ok []accepted
	assessments := map[string]Assessment{}
	affected := map[string]map[string]bool{} // courseID -> studentID set

	for _, rec := range records {
		a, known := assessments[rec.AssessmentID]
		if !known {
			var err error
			a, err = s.GetAssessment(ctx, rec.AssessmentID)
			if errors.Is(err, ErrNotFound) {
				res.Skipped = append(res.Skipped, SkippedGrade{Record: rec, Reason: "unknown assessment"})
				continue
			}
			if err != nil {
				return BulkResult{}, err
			}
			assessments[rec.AssessmentID] = a
		}
		if rec.RawScore < 0 || rec.RawScore > a.TotalScore {
			res.Skipped = append(res.Skipped, SkippedGrade{
				Record: rec,
				Reason: fmt.Sprintf("raw score out of range [0, %g]", a.TotalScore),
			})
			continue
		}
		enrolled, err := s.IsEnrolled(ctx, rec.StudentID, a.CourseID)
		if err != nil {
			return BulkResult{}, err
		}
		if !enrolled {
			res.Skipped = append(res.Skipped, SkippedGrade{Record: rec, Reason: "student not enrolled in course"})
			continue
		}
		ok = append(ok, accepted{rec: rec, courseID: a.CourseID})
		if affected[a.CourseID] == nil {
			affected[a.CourseID] = map[string]bool{}
		}
		affected[a.CourseID][rec.StudentID] = true
	}

	if len(ok) > 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return BulkResult{}, eris.Wrap(err, "begin")
		}
		defer tx.Rollback()

		ts := now()
		for _, acc := range ok {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM grades WHERE student_id=$1 AND assessment_id=$2`,
				acc.rec.StudentID, acc.rec.AssessmentID).Scan(&exists)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				res.Created++
			case err != nil:
				return BulkResult{}, eris.Wrap(err, "check grade")
			default:
				res.Updated++
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO grades (student_id,assessment_id,raw_score,updated_at) VALUES ($1,$2,$3,$4)
				 ON CONFLICT (student_id,assessment_id) DO UPDATE SET raw_score=EXCLUDED.raw_score, updated_at=EXCLUDED.updated_at`,
				acc.rec.StudentID, acc.rec.AssessmentID, acc.rec.RawScore, ts)
			if err != nil {
				return BulkResult{}, eris.Wrap(err, "upsert grade")
			}
		}
		if err := tx.Commit(); err != nil {
			return BulkResult{}, eris.Wrap(err, "commit batch")
		}
	}

	for courseID, students := range affected {
		for sid := range students {
			res.Affected[courseID] = append(res.Affected[courseID], sid)
		}
		sort.Strings(res.Affected[courseID])
	}
	return res, nil
}

func (s *SQLStore) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM enrollments WHERE student_id=$1 AND course_id=$2`, studentID, courseID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "check enrollment")
	}
	return true, nil
}

func (s *SQLStore) SetEnrollment(ctx context.Context, e Enrollment) error {
	if _, err := s.GetCourse(ctx, e.CourseID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &ReferentialError{Reason: "course " + e.CourseID + " does not exist"}
		}
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrollments (student_id,course_id,letter_grade,enrolled_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (student_id,course_id) DO UPDATE SET letter_grade=EXCLUDED.letter_grade`,
		e.StudentID, e.CourseID, e.LetterGrade, now())
	if err != nil {
		return eris.Wrap(err, "upsert enrollment")
	}
	if s.events != nil {
		s.events.EnrollmentChanged(ctx, e.StudentID, e.CourseID, false)
	}
	return nil
}

// RemoveEnrollment drops the enrollment and the student's grades for the
// course, keeping the fact that grades only exist under an enrollment. The
// emitted event retires the derived scores.
func (s *SQLStore) RemoveEnrollment(ctx context.Context, studentID, courseID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM enrollments WHERE student_id=$1 AND course_id=$2`, studentID, courseID)
	if err != nil {
		return eris.Wrap(err, "delete enrollment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM grades WHERE student_id=$1
		   AND assessment_id IN (SELECT id FROM assessments WHERE course_id=$2)`,
		studentID, courseID)
	if err != nil {
		return eris.Wrap(err, "delete course grades")
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit unenroll")
	}

	if s.events != nil {
		s.events.EnrollmentChanged(ctx, studentID, courseID, true)
	}
	return nil
}

// EnrolledStudents lists the students enrolled in a course.
func (s *SQLStore) EnrolledStudents(ctx context.Context, courseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id FROM enrollments WHERE course_id=$1 ORDER BY student_id`, courseID)
	if err != nil {
		return nil, eris.Wrap(err, "list enrolled students")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// StudentCourses lists the course IDs a student is enrolled in.
func (s *SQLStore) StudentCourses(ctx context.Context, studentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT course_id FROM enrollments WHERE student_id=$1 ORDER BY course_id`, studentID)
	if err != nil {
		return nil, eris.Wrap(err, "list student courses")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// StudentGrades returns the student's raw scores for a course keyed by
// assessment ID.
func (s *SQLStore) StudentGrades(ctx context.Context, studentID, courseID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.assessment_id, g.raw_score FROM grades g
		 JOIN assessments a ON a.id = g.assessment_id
		 WHERE g.student_id=$1 AND a.course_id=$2`, studentID, courseID)
	if err != nil {
		return nil, eris.Wrap(err, "load student grades")
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var id string
		var raw float64
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		out[id] = raw
	}
	return out, rows.Err()
}
