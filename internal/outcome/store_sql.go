package outcome

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// EventSink receives committed-mutation notifications. The recalc
// coordinator implements it; the event log wraps it.
type EventSink interface {
	GradeChanged(ctx context.Context, studentID, courseID string)
	WeightChanged(ctx context.Context, edge Edge, courseID string)
	AssessmentChanged(ctx context.Context, courseID string)
	EnrollmentChanged(ctx context.Context, studentID, courseID string, removed bool)
}

// SQLStore holds the outcome graph: catalog nodes, weighted mapping edges,
// raw facts, and derived scores. Structural invariants (weight budgets,
// grade ranges, enrollment references) are enforced at write time.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	mu     *KeyMutex
	events EventSink
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, mu: NewKeyMutex()}
}

// SetEventSink wires the mutation listener. Must be called before serving;
// a nil sink means mutations commit silently.
func (s *SQLStore) SetEventSink(sink EventSink) { s.events = sink }

func (s *SQLStore) DB() *sql.DB { return s.db }

func now() int64 { return time.Now().Unix() }

// --- Catalog ---

func (s *SQLStore) CreateTerm(ctx context.Context, t Term) error {
	if t.Active {
		// only one active term at a time
		if _, err := s.db.ExecContext(ctx, `UPDATE terms SET active=FALSE WHERE id<>$1`, t.ID); err != nil {
			return eris.Wrap(err, "deactivate terms")
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO terms (id,name,active) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, active=EXCLUDED.active`,
		t.ID, t.Name, t.Active)
	return eris.Wrap(err, "upsert term")
}

func (s *SQLStore) CreateProgram(ctx context.Context, p Program) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO programs (id,code,name) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET code=EXCLUDED.code, name=EXCLUDED.name`,
		p.ID, p.Code, p.Name)
	return eris.Wrap(err, "upsert program")
}

func (s *SQLStore) CreateProgramOutcome(ctx context.Context, po ProgramOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO program_outcomes (id,program_id,term_id,code,description) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET code=EXCLUDED.code, description=EXCLUDED.description`,
		po.ID, po.ProgramID, po.TermID, po.Code, po.Description)
	return eris.Wrap(err, "upsert program outcome")
}

func (s *SQLStore) CreateCourse(ctx context.Context, c Course) error {
	if c.Credits == 0 {
		c.Credits = 3
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO courses (id,program_id,term_id,code,name,credits) VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (id) DO UPDATE SET code=EXCLUDED.code, name=EXCLUDED.name, credits=EXCLUDED.credits`,
		c.ID, c.ProgramID, c.TermID, c.Code, c.Name, c.Credits)
	return eris.Wrap(err, "upsert course")
}

func (s *SQLStore) CreateLearningOutcome(ctx context.Context, lo LearningOutcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_outcomes (id,course_id,code,description) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (id) DO UPDATE SET code=EXCLUDED.code, description=EXCLUDED.description`,
		lo.ID, lo.CourseID, lo.Code, lo.Description)
	return eris.Wrap(err, "upsert learning outcome")
}

// CreateAssessment upserts an assessment. Its course-grade weight draws on
// the same ≤1 budget as mapping edges, scoped to the course. Changing the
// total score of an existing assessment rescales every graded ratio, so
// that case emits an event and the course is recomputed; weight edits only
// affect read-time course averages and stay silent.
func (s *SQLStore) CreateAssessment(ctx context.Context, a Assessment) error {
	if a.TotalScore <= 0 {
		return &ValidationError{Field: "total_score", Reason: "must be positive"}
	}
	if a.Weight < 0 || a.Weight > 1 {
		return &ValidationError{Field: "weight", Reason: "must be in [0,1]"}
	}
	if a.Type == "" {
		a.Type = TypeHomework
	}

	key := "course-budget|" + a.CourseID
	s.mu.Lock(key)
	defer s.mu.Unlock(key)

	var sum sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(weight),0) FROM assessments WHERE course_id=$1 AND id<>$2`,
		a.CourseID, a.ID).Scan(&sum)
	if err != nil {
		return eris.Wrap(err, "sum course weights")
	}
	if sum.Float64+a.Weight > 1+Epsilon {
		return &WeightBudgetError{SourceID: a.CourseID, Requested: a.Weight, Remaining: 1 - sum.Float64}
	}

	var prevTotal float64
	existed := true
	err = s.db.QueryRowContext(ctx,
		`SELECT total_score FROM assessments WHERE id=$1`, a.ID).Scan(&prevTotal)
	if errors.Is(err, sql.ErrNoRows) {
		existed = false
	} else if err != nil {
		return eris.Wrap(err, "lookup assessment")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assessments (id,course_id,name,type,date,total_score,weight)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, type=EXCLUDED.type,
		   date=EXCLUDED.date, total_score=EXCLUDED.total_score, weight=EXCLUDED.weight`,
		a.ID, a.CourseID, a.Name, a.Type, a.Date, a.TotalScore, a.Weight)
	if err != nil {
		return eris.Wrap(err, "upsert assessment")
	}

	if s.events != nil && existed && prevTotal != a.TotalScore {
		s.events.AssessmentChanged(ctx, a.CourseID)
	}
	return nil
}

func (s *SQLStore) GetCourse(ctx context.Context, id string) (Course, error) {
	var c Course
	err := s.db.QueryRowContext(ctx,
		`SELECT id,program_id,term_id,code,name,credits FROM courses WHERE id=$1`, id).
		Scan(&c.ID, &c.ProgramID, &c.TermID, &c.Code, &c.Name, &c.Credits)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	return c, eris.Wrap(err, "get course")
}

func (s *SQLStore) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	var a Assessment
	err := s.db.QueryRowContext(ctx,
		`SELECT id,course_id,name,type,date,total_score,weight FROM assessments WHERE id=$1`, id).
		Scan(&a.ID, &a.CourseID, &a.Name, &a.Type, &a.Date, &a.TotalScore, &a.Weight)
	if errors.Is(err, sql.ErrNoRows) {
		return Assessment{}, ErrNotFound
	}
	return a, eris.Wrap(err, "get assessment")
}

func (s *SQLStore) ListCourseOutcomes(ctx context.Context, courseID string) ([]LearningOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,course_id,code,description FROM learning_outcomes WHERE course_id=$1 ORDER BY code`,
		courseID)
	if err != nil {
		return nil, eris.Wrap(err, "list course outcomes")
	}
	defer rows.Close()
	var out []LearningOutcome
	for rows.Next() {
		var lo LearningOutcome
		if err := rows.Scan(&lo.ID, &lo.CourseID, &lo.Code, &lo.Description); err != nil {
			return nil, err
		}
		out = append(out, lo)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListCourseAssessments(ctx context.Context, courseID string) ([]Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,course_id,name,type,date,total_score,weight FROM assessments
		 WHERE course_id=$1 ORDER BY date, name`, courseID)
	if err != nil {
		return nil, eris.Wrap(err, "list course assessments")
	}
	defer rows.Close()
	var out []Assessment
	for rows.Next() {
		var a Assessment
		if err := rows.Scan(&a.ID, &a.CourseID, &a.Name, &a.Type, &a.Date, &a.TotalScore, &a.Weight); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
