package importer_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edumetrics/attain/internal/importer"
	"github.com/edumetrics/attain/internal/outcome"
)

type fakeBulkStore struct {
	result outcome.BulkResult
	got    []outcome.GradeRecord
}

func (s *fakeBulkStore) BulkUpsertGrades(_ context.Context, records []outcome.GradeRecord) (outcome.BulkResult, error) {
	s.got = records
	return s.result, nil
}

type fakeRecomputer struct {
	mu    sync.Mutex
	calls map[string][]string // courseID -> student IDs per call
}

func (r *fakeRecomputer) RecomputeStudents(_ context.Context, courseID string, studentIDs []string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string][]string{}
	}
	r.calls[courseID] = append(r.calls[courseID], studentIDs...)
	return nil
}

func TestImportGradesRecomputesOncePerStudent(t *testing.T) {
	store := &fakeBulkStore{result: outcome.BulkResult{
		Created: 2,
		Updated: 1,
		Skipped: []outcome.SkippedGrade{
			{Record: outcome.GradeRecord{StudentID: "ghost", AssessmentID: "a1", RawScore: 5}, Reason: "student not enrolled in course"},
		},
		Affected: map[string][]string{"c1": {"s1", "s2"}},
	}}
	recomp := &fakeRecomputer{}
	imp := importer.New(store, recomp, nil, 2)

	records := []outcome.GradeRecord{
		{StudentID: "s1", AssessmentID: "a1", RawScore: 50},
		{StudentID: "s1", AssessmentID: "a2", RawScore: 60},
		{StudentID: "s2", AssessmentID: "a1", RawScore: 70},
		{StudentID: "ghost", AssessmentID: "a1", RawScore: 5},
	}
	res, err := imp.ImportGrades(context.Background(), records)
	require.NoError(t, err)
	require.NotEmpty(t, res.BatchID)
	require.Equal(t, 2, res.Created)
	require.Equal(t, 1, res.Updated)
	require.Len(t, res.Skipped, 1)
	require.Equal(t, records, store.got)

	// s1 appears twice in the batch but is recomputed once.
	require.Equal(t, map[string][]string{"c1": {"s1", "s2"}}, recomp.calls)
}

func TestParseCSV(t *testing.T) {
	csv := strings.Join([]string{
		"student_id,a1,a2",
		"s1,80,45",
		"s2,,30", // empty cell means no grade, not zero
		"",
	}, "\n")
	records, err := importer.ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	require.Equal(t, []outcome.GradeRecord{
		{StudentID: "s1", AssessmentID: "a1", RawScore: 80},
		{StudentID: "s1", AssessmentID: "a2", RawScore: 45},
		{StudentID: "s2", AssessmentID: "a2", RawScore: 30},
	}, records)
}

func TestParseCSVBadHeader(t *testing.T) {
	_, err := importer.ParseCSV(strings.NewReader("name,a1\ns1,50\n"))
	require.Error(t, err)
}

func TestParseCSVBadNumber(t *testing.T) {
	_, err := importer.ParseCSV(strings.NewReader("student_id,a1\ns1,abc\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "a1")
}

func TestParseCSVNeedsDataRow(t *testing.T) {
	_, err := importer.ParseCSV(strings.NewReader("student_id,a1\n"))
	require.Error(t, err)
}
