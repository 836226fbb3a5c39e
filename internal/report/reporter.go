package report

import (
	"context"
	"sort"

	"github.com/edumetrics/attain/internal/outcome"
	"github.com/edumetrics/attain/internal/score"
)

// DefaultAtRiskThreshold flags students whose weighted course average falls
// below this ratio.
const DefaultAtRiskThreshold = 0.60

// Store is the read slice of the outcome graph the reporter consumes.
// *outcome.SQLStore satisfies it.
type Store interface {
	OutcomeScores(ctx context.Context, outcomeID string) ([]outcome.OutcomeScoreRow, error)
	ProgramScores(ctx context.Context, programOutcomeID, termID string) ([]outcome.ProgramScoreRow, error)
	CourseEvidence(ctx context.Context, courseID string) (map[string][]score.Evidence, error)
	AssessmentGrades(ctx context.Context, assessmentID string) ([]float64, error)
	GetAssessment(ctx context.Context, id string) (outcome.Assessment, error)
	StudentCourses(ctx context.Context, studentID string) ([]string, error)
	ListCourseAssessments(ctx context.Context, courseID string) ([]outcome.Assessment, error)
	StudentGrades(ctx context.Context, studentID, courseID string) (map[string]float64, error)
}

type Reporter struct {
	store     Store
	threshold float64
}

func New(store Store, atRiskThreshold float64) *Reporter {
	if atRiskThreshold <= 0 || atRiskThreshold >= 1 {
		atRiskThreshold = DefaultAtRiskThreshold
	}
	return &Reporter{store: store, threshold: atRiskThreshold}
}

// OutcomeStats summarizes per-student scores for one learning outcome.
// Null scores are excluded from the statistics, never counted as zero.
func (r *Reporter) OutcomeStats(ctx context.Context, outcomeID string) (Summary, error) {
	rows, err := r.store.OutcomeScores(ctx, outcomeID)
	if err != nil {
		return Summary{}, err
	}
	values, nulls := splitLO(rows)
	return Summarize(values, nulls), nil
}

// ProgramOutcomeStats summarizes per-student scores for one program
// outcome in one term.
func (r *Reporter) ProgramOutcomeStats(ctx context.Context, programOutcomeID, termID string) (Summary, error) {
	rows, err := r.store.ProgramScores(ctx, programOutcomeID, termID)
	if err != nil {
		return Summary{}, err
	}
	var values []float64
	nulls := 0
	for _, row := range rows {
		if row.Score.Valid {
			values = append(values, row.Score.Value)
		} else {
			nulls++
		}
	}
	return Summarize(values, nulls), nil
}

// AssessmentStats reports grade count and average raw score for one
// assessment, plus its maximum.
type AssessmentSummary struct {
	AssessmentID string  `json:"assessment_id"`
	Name         string  `json:"name"`
	Count        int     `json:"count"`
	Average      float64 `json:"average"`
	MaxScore     float64 `json:"max_score"`
	HasData      bool    `json:"has_data"`
}

func (r *Reporter) AssessmentStats(ctx context.Context, assessmentID string) (AssessmentSummary, error) {
	a, err := r.store.GetAssessment(ctx, assessmentID)
	if err != nil {
		return AssessmentSummary{}, err
	}
	grades, err := r.store.AssessmentGrades(ctx, assessmentID)
	if err != nil {
		return AssessmentSummary{}, err
	}
	out := AssessmentSummary{AssessmentID: a.ID, Name: a.Name, Count: len(grades), MaxScore: a.TotalScore}
	if len(grades) == 0 {
		return out, nil
	}
	var sum float64
	for _, g := range grades {
		sum += g
	}
	out.Average = sum / float64(len(grades))
	out.HasData = true
	return out, nil
}

// StudentAverage is one student's weighted course average. A null average
// means the student has no graded work yet.
type StudentAverage struct {
	StudentID string      `json:"student_id"`
	Average   score.Score `json:"average"`
}

// CourseAverages computes the weighted course average per enrolled
// student, renormalized over graded assessments only.
func (r *Reporter) CourseAverages(ctx context.Context, courseID string) ([]StudentAverage, error) {
	evidence, err := r.store.CourseEvidence(ctx, courseID)
	if err != nil {
		return nil, err
	}
	out := make([]StudentAverage, 0, len(evidence))
	for sid, ev := range evidence {
		out = append(out, StudentAverage{StudentID: sid, Average: score.CourseAverage(ev)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// CourseDistribution buckets per-student weighted averages into n equal
// bands; students with no graded work are counted separately.
type DistributionReport struct {
	Buckets []Bucket `json:"buckets"`
	NoData  int      `json:"no_data"`
}

func (r *Reporter) CourseDistribution(ctx context.Context, courseID string, bands int) (DistributionReport, error) {
	averages, err := r.CourseAverages(ctx, courseID)
	if err != nil {
		return DistributionReport{}, err
	}
	var values []float64
	noData := 0
	for _, sa := range averages {
		if sa.Average.Valid {
			values = append(values, sa.Average.Value)
		} else {
			noData++
		}
	}
	return DistributionReport{Buckets: Distribute(values, bands), NoData: noData}, nil
}

// AtRiskReport separates flagged students from those with no evidence at
// all: "no data" is reported, never treated as failing.
type AtRiskReport struct {
	Threshold float64          `json:"threshold"`
	AtRisk    []StudentAverage `json:"at_risk"`
	NoData    []string         `json:"no_data"`
}

func (r *Reporter) AtRisk(ctx context.Context, courseID string) (AtRiskReport, error) {
	averages, err := r.CourseAverages(ctx, courseID)
	if err != nil {
		return AtRiskReport{}, err
	}
	out := AtRiskReport{Threshold: r.threshold}
	for _, sa := range averages {
		switch {
		case !sa.Average.Valid:
			out.NoData = append(out.NoData, sa.StudentID)
		case sa.Average.Value < r.threshold:
			out.AtRisk = append(out.AtRisk, sa)
		}
	}
	return out, nil
}

// CourseOverviewEntry is one course's weighted average for a student.
type CourseOverviewEntry struct {
	CourseID string      `json:"course_id"`
	Average  score.Score `json:"average"`
}

// StudentOverview computes the weighted average for each course the
// student is enrolled in.
func (r *Reporter) StudentOverview(ctx context.Context, studentID string) ([]CourseOverviewEntry, error) {
	courses, err := r.store.StudentCourses(ctx, studentID)
	if err != nil {
		return nil, err
	}
	out := make([]CourseOverviewEntry, 0, len(courses))
	for _, courseID := range courses {
		assessments, err := r.store.ListCourseAssessments(ctx, courseID)
		if err != nil {
			return nil, err
		}
		grades, err := r.store.StudentGrades(ctx, studentID, courseID)
		if err != nil {
			return nil, err
		}
		evidence := make([]score.Evidence, 0, len(assessments))
		for _, a := range assessments {
			ev := score.Evidence{Weight: a.Weight, TotalScore: a.TotalScore}
			if raw, ok := grades[a.ID]; ok {
				ev.Graded = true
				ev.RawScore = raw
			}
			evidence = append(evidence, ev)
		}
		out = append(out, CourseOverviewEntry{CourseID: courseID, Average: score.CourseAverage(evidence)})
	}
	return out, nil
}

func splitLO(rows []outcome.OutcomeScoreRow) (values []float64, nulls int) {
	for _, row := range rows {
		if row.Score.Valid {
			values = append(values, row.Score.Value)
		} else {
			nulls++
		}
	}
	return values, nulls
}
