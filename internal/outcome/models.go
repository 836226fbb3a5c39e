package outcome

import "github.com/edumetrics/attain/internal/score"

// Assessment types mirror the kinds of graded work a course carries.
const (
	TypeMidterm    = "midterm"
	TypeFinal      = "final"
	TypeHomework   = "homework"
	TypeProject    = "project"
	TypeQuiz       = "quiz"
	TypeAttendance = "attendance"
	TypeOther      = "other"
)

// EdgeKind distinguishes the two mapping levels so an assessment→LO edit
// can never be confused with an LO→PO edit.
type EdgeKind string

const (
	EdgeAssessmentLO EdgeKind = "assessment_lo"
	EdgeLOPO         EdgeKind = "lo_po"
)

type Term struct {
	ID     string `json:"id"`
	Name   string `json:"name"` // e.g. "Fall 2026"
	Active bool   `json:"active"`
}

type Program struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type ProgramOutcome struct {
	ID          string `json:"id"`
	ProgramID   string `json:"program_id"`
	TermID      string `json:"term_id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Course is one offering: the same catalog course taught next term is a new
// row, and its learning outcomes are recreated with it.
type Course struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	TermID    string `json:"term_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Credits   int    `json:"credits"`
}

type LearningOutcome struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type Assessment struct {
	ID         string  `json:"id"`
	CourseID   string  `json:"course_id"`
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Date       string  `json:"date,omitempty"` // YYYY-MM-DD
	TotalScore float64 `json:"total_score"`
	Weight     float64 `json:"weight"` // share of the course grade, budgeted per course
}

// Edge is a weighted mapping edge at either level. Source/Target are an
// (assessment, LO) or an (LO, PO) pair depending on Kind.
type Edge struct {
	Kind     EdgeKind `json:"kind"`
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Weight   float64  `json:"weight"`
}

type Enrollment struct {
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	// LetterGrade is the final letter grade, orthogonal to outcome scores.
	LetterGrade string `json:"letter_grade,omitempty"`
}

type GradeRecord struct {
	StudentID    string  `json:"student_id"`
	AssessmentID string  `json:"assessment_id"`
	RawScore     float64 `json:"raw_score"`
}

// OutcomeScoreRow is a persisted per-student LO score. A row with an
// invalid score means "insufficient data", which is distinct from a
// missing row and from 0.
type OutcomeScoreRow struct {
	StudentID string      `json:"student_id"`
	OutcomeID string      `json:"outcome_id"`
	Score     score.Score `json:"score"`
}

// ProgramScoreRow is a persisted per-student PO score for one term.
type ProgramScoreRow struct {
	StudentID        string      `json:"student_id"`
	ProgramOutcomeID string      `json:"program_outcome_id"`
	TermID           string      `json:"term_id"`
	Score            score.Score `json:"score"`
}
