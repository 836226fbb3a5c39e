// Package recalc orchestrates when derived scores are recomputed. It
// listens for mutation events, determines the minimal closure of stale
// values, recomputes them through the pure calculator, and commits the
// result atomically per student with bounded retry.
package recalc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edumetrics/attain/internal/outcome"
	"github.com/edumetrics/attain/internal/score"
)

// Store is the slice of the outcome graph the coordinator reads and the
// derived rows it writes. *outcome.SQLStore satisfies it.
type Store interface {
	ListCourseOutcomes(ctx context.Context, courseID string) ([]outcome.LearningOutcome, error)
	ListCourseAssessments(ctx context.Context, courseID string) ([]outcome.Assessment, error)
	CourseEdges(ctx context.Context, courseID string) ([]outcome.Edge, error)
	CourseContributions(ctx context.Context, courseID string) ([]outcome.ContributionEdge, error)
	StudentGrades(ctx context.Context, studentID, courseID string) (map[string]float64, error)
	StudentContributions(ctx context.Context, studentID string) ([]outcome.ContributionEdge, error)
	StudentLOScores(ctx context.Context, studentID string) (map[string]score.Score, error)
	ProgramOutcomeTerm(ctx context.Context, programOutcomeID string) (string, error)
	EnrolledStudents(ctx context.Context, courseID string) ([]string, error)
	CommitScores(ctx context.Context, c outcome.ScoreCommit) error
}

// Notifier receives terminal recompute outcomes (for the event log or an
// external observability layer).
type Notifier interface {
	RecalculationCommitted(ctx context.Context, runID, studentID, courseID string)
	RecalculationFailed(ctx context.Context, runID, studentID, courseID string, err error)
}

type Option func(*Coordinator)

func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notify = n } }

func WithRunLog(r RunLog) Option { return func(c *Coordinator) { c.runs = r } }

func WithRetryDelay(d time.Duration) Option { return func(c *Coordinator) { c.retryDelay = d } }

type Coordinator struct {
	store       Store
	runs        RunLog
	notify      Notifier
	log         *zap.Logger
	keys        *outcome.KeyMutex
	maxAttempts int
	retryDelay  time.Duration
}

func New(store Store, log *zap.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		store:       store,
		runs:        nopRunLog{},
		log:         log,
		keys:        outcome.NewKeyMutex(),
		maxAttempts: 3,
		retryDelay:  100 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ outcome.EventSink = (*Coordinator)(nil)

// GradeChanged recomputes the student's LO scores for the course, then the
// program outcomes those LOs feed.
func (c *Coordinator) GradeChanged(ctx context.Context, studentID, courseID string) {
	if err := c.RecomputeStudentCourse(ctx, studentID, courseID); err != nil {
		c.log.Error("recompute after grade change failed",
			zap.String("student", studentID), zap.String("course", courseID), zap.Error(err))
	}
}

// WeightChanged handles a mapping edit. An assessment→LO edit invalidates
// every enrolled student's scores for the course; an LO→PO edit leaves LO
// scores untouched and recomputes only the affected program outcome.
func (c *Coordinator) WeightChanged(ctx context.Context, edge outcome.Edge, courseID string) {
	switch edge.Kind {
	case outcome.EdgeAssessmentLO:
		if err := c.RecomputeCourse(ctx, courseID); err != nil {
			c.log.Error("recompute after weight change failed",
				zap.String("course", courseID), zap.Error(err))
		}
	case outcome.EdgeLOPO:
		if err := c.recomputeProgramOutcome(ctx, courseID, edge.TargetID); err != nil {
			c.log.Error("program outcome recompute failed",
				zap.String("po", edge.TargetID), zap.Error(err))
		}
	}
}

// AssessmentChanged recomputes the whole course. total_score is the
// denominator of every graded ratio, so editing it invalidates each
// enrolled student's LO scores at once.
func (c *Coordinator) AssessmentChanged(ctx context.Context, courseID string) {
	if err := c.RecomputeCourse(ctx, courseID); err != nil {
		c.log.Error("recompute after assessment change failed",
			zap.String("course", courseID), zap.Error(err))
	}
}

// EnrollmentChanged recomputes on enroll and retires derived rows on
// unenroll.
func (c *Coordinator) EnrollmentChanged(ctx context.Context, studentID, courseID string, removed bool) {
	var err error
	if removed {
		err = c.retireStudentCourse(ctx, studentID, courseID)
	} else {
		err = c.RecomputeStudentCourse(ctx, studentID, courseID)
	}
	if err != nil {
		c.log.Error("recompute after enrollment change failed",
			zap.String("student", studentID), zap.String("course", courseID), zap.Error(err))
	}
}

// RecomputeCourse recomputes every enrolled student of a course serially.
// Bulk import uses RecomputeStudents for bounded parallelism instead.
func (c *Coordinator) RecomputeCourse(ctx context.Context, courseID string) error {
	students, err := c.store.EnrolledStudents(ctx, courseID)
	if err != nil {
		return err
	}
	for _, sid := range students {
		if err := c.RecomputeStudentCourse(ctx, sid, courseID); err != nil {
			return err
		}
	}
	return nil
}

// RecomputeStudents runs one recompute pass per student with bounded
// parallelism. Distinct (student, course) keys do not contend.
func (c *Coordinator) RecomputeStudents(ctx context.Context, courseID string, studentIDs []string, parallel int) error {
	if parallel <= 0 {
		parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, sid := range studentIDs {
		sid := sid
		g.Go(func() error {
			return c.RecomputeStudentCourse(gctx, sid, courseID)
		})
	}
	return g.Wait()
}

// RecomputeStudentCourse recomputes one (student, course) key: all LO
// scores for the course, then every program outcome reachable from those
// LOs, committed in one transaction with bounded retry. Concurrent calls
// on the same key serialize; other keys run in parallel.
func (c *Coordinator) RecomputeStudentCourse(ctx context.Context, studentID, courseID string) error {
	key := studentID + "|" + courseID
	c.keys.Lock(key)
	defer c.keys.Unlock(key)

	return c.runWithRetry(ctx, studentID, courseID, func(ctx context.Context) error {
		commit, err := c.buildCommit(ctx, studentID, courseID)
		if err != nil {
			return err
		}
		return c.store.CommitScores(ctx, commit)
	})
}

// buildCommit derives the full recompute result for one student in one
// course: LO rows first, then the PO rows computed from the fresh LO values
// merged over the student's persisted scores from other courses.
func (c *Coordinator) buildCommit(ctx context.Context, studentID, courseID string) (outcome.ScoreCommit, error) {
	los, err := c.store.ListCourseOutcomes(ctx, courseID)
	if err != nil {
		return outcome.ScoreCommit{}, err
	}
	assessments, err := c.store.ListCourseAssessments(ctx, courseID)
	if err != nil {
		return outcome.ScoreCommit{}, err
	}
	edges, err := c.store.CourseEdges(ctx, courseID)
	if err != nil {
		return outcome.ScoreCommit{}, err
	}
	grades, err := c.store.StudentGrades(ctx, studentID, courseID)
	if err != nil {
		return outcome.ScoreCommit{}, err
	}

	byAssessment := make(map[string]outcome.Assessment, len(assessments))
	for _, a := range assessments {
		byAssessment[a.ID] = a
	}
	edgesByLO := map[string][]outcome.Edge{}
	for _, e := range edges {
		edgesByLO[e.TargetID] = append(edgesByLO[e.TargetID], e)
	}

	commit := outcome.ScoreCommit{StudentID: studentID}
	fresh := map[string]score.Score{}
	for _, lo := range los {
		var evidence []score.Evidence
		for _, e := range edgesByLO[lo.ID] {
			a, ok := byAssessment[e.SourceID]
			if !ok {
				continue
			}
			ev := score.Evidence{Weight: e.Weight, TotalScore: a.TotalScore}
			if raw, graded := grades[a.ID]; graded {
				ev.Graded = true
				ev.RawScore = raw
			}
			evidence = append(evidence, ev)
		}
		sc := score.LO(evidence)
		fresh[lo.ID] = sc
		commit.LO = append(commit.LO, outcome.OutcomeScoreRow{
			StudentID: studentID, OutcomeID: lo.ID, Score: sc,
		})
	}

	// LO scores strictly precede the POs that depend on them: the PO pass
	// reads the fresh values, falling back to persisted rows for the
	// student's other courses.
	poRows, err := c.programRows(ctx, studentID, fresh, nil)
	if err != nil {
		return outcome.ScoreCommit{}, err
	}
	commit.PO = poRows
	return commit, nil
}

// programRows recomputes the student's PO scores restricted to wanted POs
// (nil means every PO reachable through the overlay's LOs).
func (c *Coordinator) programRows(ctx context.Context, studentID string, overlay map[string]score.Score, wanted map[string]bool) ([]outcome.ProgramScoreRow, error) {
	persisted, err := c.store.StudentLOScores(ctx, studentID)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]score.Score, len(persisted)+len(overlay))
	for id, sc := range persisted {
		merged[id] = sc
	}
	for id, sc := range overlay {
		merged[id] = sc
	}

	contribs, err := c.store.StudentContributions(ctx, studentID)
	if err != nil {
		return nil, err
	}

	type poKey struct{ po, term string }
	grouped := map[poKey][]score.Contribution{}
	for _, ce := range contribs {
		k := poKey{ce.ProgramOutcomeID, ce.TermID}
		grouped[k] = append(grouped[k], score.Contribution{
			Weight: ce.Weight,
			LO:     merged[ce.OutcomeID],
		})
	}
	if wanted == nil {
		wanted = map[string]bool{}
		for _, ce := range contribs {
			if _, touched := overlay[ce.OutcomeID]; touched {
				wanted[ce.ProgramOutcomeID] = true
			}
		}
	}

	var rows []outcome.ProgramScoreRow
	for k, cs := range grouped {
		if !wanted[k.po] {
			continue
		}
		rows = append(rows, outcome.ProgramScoreRow{
			StudentID:        studentID,
			ProgramOutcomeID: k.po,
			TermID:           k.term,
			Score:            score.PO(cs),
		})
	}
	return rows, nil
}

// recomputeProgramOutcome handles an LO→PO weight edit: only poScore for
// the edited PO changes, for every student enrolled in the course owning
// the LO. LO rows are left untouched.
func (c *Coordinator) recomputeProgramOutcome(ctx context.Context, courseID, programOutcomeID string) error {
	students, err := c.store.EnrolledStudents(ctx, courseID)
	if err != nil {
		return err
	}
	termID, err := c.store.ProgramOutcomeTerm(ctx, programOutcomeID)
	if err != nil {
		return err
	}
	wanted := map[string]bool{programOutcomeID: true}
	for _, sid := range students {
		key := sid + "|" + courseID
		c.keys.Lock(key)
		err := c.runWithRetry(ctx, sid, courseID, func(ctx context.Context) error {
			rows, err := c.programRows(ctx, sid, nil, wanted)
			if err != nil {
				return err
			}
			// Deleting the last edge into the PO leaves no contributions at
			// all; the persisted score still has to change, to null.
			if len(rows) == 0 {
				rows = append(rows, outcome.ProgramScoreRow{
					StudentID:        sid,
					ProgramOutcomeID: programOutcomeID,
					TermID:           termID,
					Score:            score.None(),
				})
			}
			return c.store.CommitScores(ctx, outcome.ScoreCommit{StudentID: sid, PO: rows})
		})
		c.keys.Unlock(key)
		if err != nil {
			return err
		}
	}
	return nil
}

// retireStudentCourse handles unenrollment: the course's LO rows are
// removed and the POs they fed are recomputed from what remains; a PO left
// with no evidence keeps a row with a null score.
func (c *Coordinator) retireStudentCourse(ctx context.Context, studentID, courseID string) error {
	key := studentID + "|" + courseID
	c.keys.Lock(key)
	defer c.keys.Unlock(key)

	return c.runWithRetry(ctx, studentID, courseID, func(ctx context.Context) error {
		los, err := c.store.ListCourseOutcomes(ctx, courseID)
		if err != nil {
			return err
		}
		courseContribs, err := c.store.CourseContributions(ctx, courseID)
		if err != nil {
			return err
		}

		// Overlay the retired LOs as missing so the PO pass ignores them.
		overlay := map[string]score.Score{}
		commit := outcome.ScoreCommit{StudentID: studentID}
		for _, lo := range los {
			overlay[lo.ID] = score.None()
			commit.RemoveLO = append(commit.RemoveLO, lo.ID)
		}
		wanted := map[string]bool{}
		terms := map[string]string{}
		for _, ce := range courseContribs {
			wanted[ce.ProgramOutcomeID] = true
			terms[ce.ProgramOutcomeID] = ce.TermID
		}

		rows, err := c.programRows(ctx, studentID, overlay, wanted)
		if err != nil {
			return err
		}
		// POs now fed by nothing still get a row, with a null score.
		seen := map[string]bool{}
		for _, r := range rows {
			seen[r.ProgramOutcomeID] = true
		}
		for poID := range wanted {
			if !seen[poID] {
				rows = append(rows, outcome.ProgramScoreRow{
					StudentID:        studentID,
					ProgramOutcomeID: poID,
					TermID:           terms[poID],
					Score:            score.None(),
				})
			}
		}
		commit.PO = rows
		return c.store.CommitScores(ctx, commit)
	})
}

// runWithRetry tracks a run record through pending→running→committed or
// failed, retrying the compute-and-commit closure up to maxAttempts. A
// failed attempt leaves the previously committed scores untouched.
func (c *Coordinator) runWithRetry(ctx context.Context, studentID, courseID string, fn func(context.Context) error) error {
	run := Run{
		ID:        uuid.NewString(),
		StudentID: studentID,
		CourseID:  courseID,
		State:     StatePending,
	}
	if err := c.runs.Begin(ctx, run); err != nil {
		c.log.Warn("run log begin failed", zap.Error(err))
	}

	run.State = StateRunning
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		run.Attempts = attempt
		_ = c.runs.Update(ctx, run)

		if lastErr = fn(ctx); lastErr == nil {
			run.State = StateCommitted
			_ = c.runs.Update(ctx, run)
			if c.notify != nil {
				c.notify.RecalculationCommitted(ctx, run.ID, studentID, courseID)
			}
			return nil
		}

		c.log.Warn("recompute attempt failed",
			zap.String("run", run.ID),
			zap.String("student", studentID),
			zap.String("course", courseID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = c.maxAttempts // stop retrying
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
	}

	run.State = StateFailed
	run.Error = lastErr.Error()
	_ = c.runs.Update(ctx, run)
	if c.notify != nil {
		c.notify.RecalculationFailed(ctx, run.ID, studentID, courseID, lastErr)
	}
	return eris.Wrapf(lastErr, "recompute %s|%s failed after %d attempts", studentID, courseID, c.maxAttempts)
}
