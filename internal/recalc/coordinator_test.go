package recalc_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edumetrics/attain/internal/outcome"
	"github.com/edumetrics/attain/internal/recalc"
	"github.com/edumetrics/attain/internal/score"
)

/* ---------------- In-memory fake satisfying recalc.Store ---------------- */

type poKey struct{ po, term string }

type fakeStore struct {
	mu sync.Mutex

	outcomes    map[string][]outcome.LearningOutcome // courseID -> LOs
	assessments map[string][]outcome.Assessment      // courseID -> assessments
	edges       map[string][]outcome.Edge            // courseID -> assessment→LO edges
	contribs    map[string][]outcome.ContributionEdge // courseID -> LO→PO edges
	enrolled    map[string][]string                  // courseID -> student IDs
	grades      map[string]map[string]float64        // studentID|courseID -> assessmentID -> raw
	poTerms     map[string]string                    // programOutcomeID -> termID

	loScores map[string]map[string]score.Score // studentID -> loID -> score
	poScores map[string]map[poKey]score.Score  // studentID -> (po, term) -> score

	commits     []outcome.ScoreCommit
	failCommits int // fail this many commits before succeeding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		outcomes:    map[string][]outcome.LearningOutcome{},
		assessments: map[string][]outcome.Assessment{},
		edges:       map[string][]outcome.Edge{},
		contribs:    map[string][]outcome.ContributionEdge{},
		enrolled:    map[string][]string{},
		grades:      map[string]map[string]float64{},
		poTerms:     map[string]string{},
		loScores:    map[string]map[string]score.Score{},
		poScores:    map[string]map[poKey]score.Score{},
	}
}

func (s *fakeStore) ListCourseOutcomes(_ context.Context, courseID string) ([]outcome.LearningOutcome, error) {
	return s.outcomes[courseID], nil
}

func (s *fakeStore) ListCourseAssessments(_ context.Context, courseID string) ([]outcome.Assessment, error) {
	return s.assessments[courseID], nil
}

func (s *fakeStore) CourseEdges(_ context.Context, courseID string) ([]outcome.Edge, error) {
	return s.edges[courseID], nil
}

func (s *fakeStore) CourseContributions(_ context.Context, courseID string) ([]outcome.ContributionEdge, error) {
	return s.contribs[courseID], nil
}

func (s *fakeStore) StudentGrades(_ context.Context, studentID, courseID string) (map[string]float64, error) {
	return s.grades[studentID+"|"+courseID], nil
}

func (s *fakeStore) StudentContributions(_ context.Context, studentID string) ([]outcome.ContributionEdge, error) {
	var out []outcome.ContributionEdge
	for courseID, ces := range s.contribs {
		for _, sid := range s.enrolled[courseID] {
			if sid == studentID {
				out = append(out, ces...)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) ProgramOutcomeTerm(_ context.Context, programOutcomeID string) (string, error) {
	term, ok := s.poTerms[programOutcomeID]
	if !ok {
		return "", outcome.ErrNotFound
	}
	return term, nil
}

func (s *fakeStore) StudentLOScores(_ context.Context, studentID string) (map[string]score.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]score.Score{}
	for id, sc := range s.loScores[studentID] {
		out[id] = sc
	}
	return out, nil
}

func (s *fakeStore) EnrolledStudents(_ context.Context, courseID string) ([]string, error) {
	return s.enrolled[courseID], nil
}

func (s *fakeStore) CommitScores(_ context.Context, c outcome.ScoreCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits > 0 {
		s.failCommits--
		return errors.New("commit refused")
	}
	if s.loScores[c.StudentID] == nil {
		s.loScores[c.StudentID] = map[string]score.Score{}
	}
	if s.poScores[c.StudentID] == nil {
		s.poScores[c.StudentID] = map[poKey]score.Score{}
	}
	for _, row := range c.LO {
		s.loScores[c.StudentID][row.OutcomeID] = row.Score
	}
	for _, id := range c.RemoveLO {
		delete(s.loScores[c.StudentID], id)
	}
	for _, row := range c.PO {
		s.poScores[c.StudentID][poKey{row.ProgramOutcomeID, row.TermID}] = row.Score
	}
	s.commits = append(s.commits, c)
	return nil
}

func (s *fakeStore) loScore(student, lo string) score.Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loScores[student][lo]
}

func (s *fakeStore) poScore(student, po, term string) score.Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poScores[student][poKey{po, term}]
}

// seedCourse builds one course: two assessments feeding lo1, lo1 feeding po1.
func seedCourse(s *fakeStore) {
	s.outcomes["c1"] = []outcome.LearningOutcome{{ID: "lo1", CourseID: "c1", Code: "LO1"}}
	s.assessments["c1"] = []outcome.Assessment{
		{ID: "a1", CourseID: "c1", TotalScore: 100},
		{ID: "a2", CourseID: "c1", TotalScore: 50},
	}
	s.edges["c1"] = []outcome.Edge{
		{Kind: outcome.EdgeAssessmentLO, SourceID: "a1", TargetID: "lo1", Weight: 0.6},
		{Kind: outcome.EdgeAssessmentLO, SourceID: "a2", TargetID: "lo1", Weight: 0.4},
	}
	s.contribs["c1"] = []outcome.ContributionEdge{
		{OutcomeID: "lo1", ProgramOutcomeID: "po1", TermID: "t1", Weight: 1.0},
	}
	s.enrolled["c1"] = []string{"s1"}
	s.poTerms["po1"] = "t1"
}

type fakeNotifier struct {
	mu        sync.Mutex
	committed int
	failed    int
}

func (n *fakeNotifier) RecalculationCommitted(context.Context, string, string, string) {
	n.mu.Lock()
	n.committed++
	n.mu.Unlock()
}

func (n *fakeNotifier) RecalculationFailed(context.Context, string, string, string, error) {
	n.mu.Lock()
	n.failed++
	n.mu.Unlock()
}

/* ---------------- Tests ---------------- */

func TestGradeChangePropagatesToProgramOutcome(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))

	// 0.8*0.6 + 0.8*0.4 = 0.8 over a full denominator
	lo := s.loScore("s1", "lo1")
	require.True(t, lo.Valid)
	require.InDelta(t, 0.8, lo.Value, 1e-9)

	po := s.poScore("s1", "po1", "t1")
	require.True(t, po.Valid)
	require.InDelta(t, 0.8, po.Value, 1e-9)
}

func TestPendingAssessmentRenormalizes(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	// a2 not graded yet: the denominator shrinks to a1's weight.
	s.grades["s1|c1"] = map[string]float64{"a1": 90}

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))

	lo := s.loScore("s1", "lo1")
	require.True(t, lo.Valid)
	require.InDelta(t, 0.9, lo.Value, 1e-9)
}

func TestNoEvidenceYieldsNull(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))

	require.False(t, s.loScore("s1", "lo1").Valid)
	require.False(t, s.poScore("s1", "po1", "t1").Valid)
}

func TestGradeChangedIsIdempotent(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}

	c := recalc.New(s, nil)
	c.GradeChanged(context.Background(), "s1", "c1")
	first := s.loScore("s1", "lo1")
	c.GradeChanged(context.Background(), "s1", "c1")
	second := s.loScore("s1", "lo1")
	require.Equal(t, first, second)
}

func TestMappingEditLeavesOutcomeRowsUntouched(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))
	before := len(s.commits)

	c.WeightChanged(context.Background(), outcome.Edge{
		Kind: outcome.EdgeLOPO, SourceID: "lo1", TargetID: "po1", Weight: 0.5,
	}, "c1")

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(t, len(s.commits), before)
	for _, cm := range s.commits[before:] {
		require.Empty(t, cm.LO, "an lo_po edit must not rewrite LO rows")
		require.NotEmpty(t, cm.PO)
	}
}

func TestDeleteLastMappingEdgeRetiresProgramScore(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))
	require.InDelta(t, 0.8, s.poScore("s1", "po1", "t1").Value, 1e-9)

	// The sole lo1→po1 edge is gone; the delete arrives as weight 0.
	s.contribs["c1"] = nil
	c.WeightChanged(context.Background(), outcome.Edge{
		Kind: outcome.EdgeLOPO, SourceID: "lo1", TargetID: "po1", Weight: 0,
	}, "c1")

	po := s.poScore("s1", "po1", "t1")
	require.False(t, po.Valid, "a PO fed by nothing must go null, not keep its last value")
	// LO rows stay untouched by the mapping edit.
	require.InDelta(t, 0.8, s.loScore("s1", "lo1").Value, 1e-9)
}

func TestProgramOutcomeMergesAcrossCourses(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	// A second course whose LO feeds the same PO.
	s.outcomes["c2"] = []outcome.LearningOutcome{{ID: "lo2", CourseID: "c2", Code: "LO1"}}
	s.assessments["c2"] = []outcome.Assessment{{ID: "b1", CourseID: "c2", TotalScore: 100}}
	s.edges["c2"] = []outcome.Edge{
		{Kind: outcome.EdgeAssessmentLO, SourceID: "b1", TargetID: "lo2", Weight: 1.0},
	}
	s.contribs["c2"] = []outcome.ContributionEdge{
		{OutcomeID: "lo2", ProgramOutcomeID: "po1", TermID: "t1", Weight: 1.0},
	}
	s.enrolled["c2"] = []string{"s1"}
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40} // lo1 = 0.8
	s.grades["s1|c2"] = map[string]float64{"b1": 40}           // lo2 = 0.4

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c2"))

	po := s.poScore("s1", "po1", "t1")
	require.True(t, po.Valid)
	require.InDelta(t, 0.6, po.Value, 1e-9)
}

func TestUnenrollRetiresDerivedRows(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))
	require.True(t, s.loScore("s1", "lo1").Valid)

	c.EnrollmentChanged(context.Background(), "s1", "c1", true)

	s.mu.Lock()
	_, hasLO := s.loScores["s1"]["lo1"]
	s.mu.Unlock()
	require.False(t, hasLO, "LO row must be removed on unenroll")
	// The PO the course fed keeps a row, but with no remaining evidence
	// its score is null.
	require.False(t, s.poScore("s1", "po1", "t1").Valid)
}

func TestRetryThenCommit(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}
	s.failCommits = 1

	n := &fakeNotifier{}
	c := recalc.New(s, nil,
		recalc.WithNotifier(n),
		recalc.WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))
	require.True(t, s.loScore("s1", "lo1").Valid)
	require.Equal(t, 1, n.committed)
	require.Equal(t, 0, n.failed)
}

func TestFailureAfterBoundedRetries(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}

	n := &fakeNotifier{}
	c := recalc.New(s, nil,
		recalc.WithNotifier(n),
		recalc.WithMaxAttempts(2),
		recalc.WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, c.RecomputeStudentCourse(context.Background(), "s1", "c1"))
	require.InDelta(t, 0.8, s.loScore("s1", "lo1").Value, 1e-9)

	// Subsequent grades land but every commit is refused.
	s.grades["s1|c1"]["a1"] = 10
	s.failCommits = 100

	err := c.RecomputeStudentCourse(context.Background(), "s1", "c1")
	require.Error(t, err)
	require.Equal(t, 1, n.failed)
	// 2 attempts consumed, last-good scores untouched
	require.Equal(t, 98, s.failCommits)
	require.InDelta(t, 0.8, s.loScore("s1", "lo1").Value, 1e-9)
}

func TestBatchRecomputeMatchesSequential(t *testing.T) {
	s := newFakeStore()
	seedCourse(s)
	s.enrolled["c1"] = []string{"s1", "s2", "s3"}
	s.grades["s1|c1"] = map[string]float64{"a1": 80, "a2": 40}
	s.grades["s2|c1"] = map[string]float64{"a1": 50}
	// s3 has no grades at all

	c := recalc.New(s, nil)
	require.NoError(t, c.RecomputeStudents(context.Background(), "c1", []string{"s1", "s2", "s3"}, 2))

	require.InDelta(t, 0.8, s.loScore("s1", "lo1").Value, 1e-9)
	require.InDelta(t, 0.5, s.loScore("s2", "lo1").Value, 1e-9)
	require.False(t, s.loScore("s3", "lo1").Valid)
}
