package recalc_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edumetrics/attain/internal/db"
	"github.com/edumetrics/attain/internal/outcome"
	"github.com/edumetrics/attain/internal/recalc"
	"github.com/edumetrics/attain/internal/score"
)

// wires the real sqlite store to the coordinator: every mutation on the
// store triggers a synchronous recompute.
func newWiredStore(t *testing.T) (*outcome.SQLStore, *recalc.SQLRunLog) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })

	store := outcome.NewSQLStore(dbh, "sqlite")
	runs := recalc.NewSQLRunLog(dbh)
	coord := recalc.New(store, nil,
		recalc.WithRunLog(runs),
		recalc.WithRetryDelay(time.Millisecond),
	)
	store.SetEventSink(coord)
	return store, runs
}

func seedGraph(t *testing.T, s *outcome.SQLStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateTerm(ctx, outcome.Term{ID: "t1", Name: "Fall 2026", Active: true}))
	require.NoError(t, s.CreateProgram(ctx, outcome.Program{ID: "p1", Code: "CENG", Name: "Computer Eng"}))
	require.NoError(t, s.CreateProgramOutcome(ctx, outcome.ProgramOutcome{
		ID: "po1", ProgramID: "p1", TermID: "t1", Code: "PO1",
	}))
	require.NoError(t, s.CreateCourse(ctx, outcome.Course{
		ID: "c1", ProgramID: "p1", TermID: "t1", Code: "CENG101", Name: "Intro",
	}))
	require.NoError(t, s.CreateLearningOutcome(ctx, outcome.LearningOutcome{ID: "lo1", CourseID: "c1", Code: "LO1"}))
	require.NoError(t, s.CreateAssessment(ctx, outcome.Assessment{
		ID: "a1", CourseID: "c1", Name: "Midterm", TotalScore: 100, Weight: 0.4,
	}))
	require.NoError(t, s.CreateAssessment(ctx, outcome.Assessment{
		ID: "a2", CourseID: "c1", Name: "Final", TotalScore: 50, Weight: 0.6,
	}))
	require.NoError(t, s.SetEdgeWeight(ctx, outcome.Edge{
		Kind: outcome.EdgeAssessmentLO, SourceID: "a1", TargetID: "lo1", Weight: 0.6,
	}))
	require.NoError(t, s.SetEdgeWeight(ctx, outcome.Edge{
		Kind: outcome.EdgeAssessmentLO, SourceID: "a2", TargetID: "lo1", Weight: 0.4,
	}))
	require.NoError(t, s.SetEdgeWeight(ctx, outcome.Edge{
		Kind: outcome.EdgeLOPO, SourceID: "lo1", TargetID: "po1", Weight: 1.0,
	}))
	require.NoError(t, s.SetEnrollment(ctx, outcome.Enrollment{StudentID: "s1", CourseID: "c1"}))
}

func loScoreFor(t *testing.T, s *outcome.SQLStore, studentID, outcomeID string) score.Score {
	t.Helper()
	rows, err := s.OutcomeScores(context.Background(), outcomeID)
	require.NoError(t, err)
	for _, row := range rows {
		if row.StudentID == studentID {
			return row.Score
		}
	}
	t.Fatalf("no LO score row for %s/%s", studentID, outcomeID)
	return score.Score{}
}

func poScoreFor(t *testing.T, s *outcome.SQLStore, studentID, poID, termID string) score.Score {
	t.Helper()
	rows, err := s.ProgramScores(context.Background(), poID, termID)
	require.NoError(t, err)
	for _, row := range rows {
		if row.StudentID == studentID {
			return row.Score
		}
	}
	t.Fatalf("no PO score row for %s/%s", studentID, poID)
	return score.Score{}
}

func TestGradeWriteTriggersRecompute(t *testing.T) {
	store, runs := newWiredStore(t)
	seedGraph(t, store)
	ctx := context.Background()

	_, err := store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a1", RawScore: 80})
	require.NoError(t, err)

	// Only a1 graded: renormalized to the graded subset.
	lo := loScoreFor(t, store, "s1", "lo1")
	require.True(t, lo.Valid)
	require.InDelta(t, 0.8, lo.Value, 1e-9)

	_, err = store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a2", RawScore: 25})
	require.NoError(t, err)

	// 0.8*0.6 + 0.5*0.4 = 0.68 over the full denominator.
	lo = loScoreFor(t, store, "s1", "lo1")
	require.InDelta(t, 0.68, lo.Value, 1e-9)

	po := poScoreFor(t, store, "s1", "po1", "t1")
	require.True(t, po.Valid)
	require.InDelta(t, 0.68, po.Value, 1e-9)

	failed, err := runs.Failed(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestDeleteGradeRevertsToNull(t *testing.T) {
	store, _ := newWiredStore(t)
	seedGraph(t, store)
	ctx := context.Background()

	_, err := store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a1", RawScore: 80})
	require.NoError(t, err)
	require.True(t, loScoreFor(t, store, "s1", "lo1").Valid)

	require.NoError(t, store.DeleteGrade(ctx, "s1", "a1"))

	// With no graded evidence left the score is null, not zero.
	require.False(t, loScoreFor(t, store, "s1", "lo1").Valid)
	require.False(t, poScoreFor(t, store, "s1", "po1", "t1").Valid)
}

func TestWeightEditRecomputesCourse(t *testing.T) {
	store, _ := newWiredStore(t)
	seedGraph(t, store)
	ctx := context.Background()

	_, err := store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a1", RawScore: 80})
	require.NoError(t, err)
	_, err = store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a2", RawScore: 25})
	require.NoError(t, err)
	require.InDelta(t, 0.68, loScoreFor(t, store, "s1", "lo1").Value, 1e-9)

	// Shift the mapping toward the final: 0.8*0.2 + 0.5*0.8 = 0.56.
	require.NoError(t, store.SetEdgeWeight(ctx, outcome.Edge{
		Kind: outcome.EdgeAssessmentLO, SourceID: "a1", TargetID: "lo1", Weight: 0.2,
	}))
	require.NoError(t, store.SetEdgeWeight(ctx, outcome.Edge{
		Kind: outcome.EdgeAssessmentLO, SourceID: "a2", TargetID: "lo1", Weight: 0.8,
	}))
	require.InDelta(t, 0.56, loScoreFor(t, store, "s1", "lo1").Value, 1e-9)
	require.InDelta(t, 0.56, poScoreFor(t, store, "s1", "po1", "t1").Value, 1e-9)
}

func TestDeleteLastMappingEdgeNullsProgramScore(t *testing.T) {
	store, _ := newWiredStore(t)
	seedGraph(t, store)
	ctx := context.Background()

	_, err := store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a1", RawScore: 80})
	require.NoError(t, err)
	require.InDelta(t, 0.8, poScoreFor(t, store, "s1", "po1", "t1").Value, 1e-9)

	require.NoError(t, store.DeleteEdge(ctx, outcome.Edge{
		Kind: outcome.EdgeLOPO, SourceID: "lo1", TargetID: "po1",
	}))

	// No edge feeds po1 anymore: the persisted row goes null rather than
	// keeping the pre-delete value.
	require.False(t, poScoreFor(t, store, "s1", "po1", "t1").Valid)
	require.InDelta(t, 0.8, loScoreFor(t, store, "s1", "lo1").Value, 1e-9)
}

func TestTotalScoreEditRecomputesCourse(t *testing.T) {
	store, _ := newWiredStore(t)
	seedGraph(t, store)
	ctx := context.Background()

	_, err := store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a1", RawScore: 80})
	require.NoError(t, err)
	require.InDelta(t, 0.8, loScoreFor(t, store, "s1", "lo1").Value, 1e-9)

	// Doubling the grading basis halves every ratio derived from a1.
	require.NoError(t, store.CreateAssessment(ctx, outcome.Assessment{
		ID: "a1", CourseID: "c1", Name: "Midterm", TotalScore: 200, Weight: 0.4,
	}))

	require.InDelta(t, 0.4, loScoreFor(t, store, "s1", "lo1").Value, 1e-9)
	require.InDelta(t, 0.4, poScoreFor(t, store, "s1", "po1", "t1").Value, 1e-9)
}

func TestUnenrollRetiresRows(t *testing.T) {
	store, _ := newWiredStore(t)
	seedGraph(t, store)
	ctx := context.Background()

	_, err := store.UpsertGrade(ctx, outcome.GradeRecord{StudentID: "s1", AssessmentID: "a1", RawScore: 80})
	require.NoError(t, err)
	require.True(t, loScoreFor(t, store, "s1", "lo1").Valid)

	require.NoError(t, store.RemoveEnrollment(ctx, "s1", "c1"))

	rows, err := store.OutcomeScores(ctx, "lo1")
	require.NoError(t, err)
	require.Empty(t, rows, "LO rows must be removed on unenroll")
	require.False(t, poScoreFor(t, store, "s1", "po1", "t1").Valid)
}

func TestBulkImportFollowedBySingleRecompute(t *testing.T) {
	store, _ := newWiredStore(t)
	seedGraph(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetEnrollment(ctx, outcome.Enrollment{StudentID: "s2", CourseID: "c1"}))

	res, err := store.BulkUpsertGrades(ctx, []outcome.GradeRecord{
		{StudentID: "s1", AssessmentID: "a1", RawScore: 80},
		{StudentID: "s2", AssessmentID: "a1", RawScore: 40},
	})
	require.NoError(t, err)

	// Bulk writes emit no events: the rows the enrollment pass left behind
	// stay null until the explicit recompute.
	rows, err := store.OutcomeScores(ctx, "lo1")
	require.NoError(t, err)
	for _, row := range rows {
		require.False(t, row.Score.Valid)
	}

	coord := recalc.New(store, nil, recalc.WithRetryDelay(time.Millisecond))
	for courseID, students := range res.Affected {
		require.NoError(t, coord.RecomputeStudents(ctx, courseID, students, 2))
	}
	require.InDelta(t, 0.8, loScoreFor(t, store, "s1", "lo1").Value, 1e-9)
	require.InDelta(t, 0.4, loScoreFor(t, store, "s2", "lo1").Value, 1e-9)
}
