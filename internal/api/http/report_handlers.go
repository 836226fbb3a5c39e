package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edumetrics/attain/internal/outcome"
	"github.com/edumetrics/attain/internal/report"
)

// GET /outcomes/{outcomeID}/stats
func OutcomeStatsHandler(rep *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := rep.OutcomeStats(r.Context(), chi.URLParam(r, "outcomeID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// GET /outcomes/{outcomeID}/scores
func OutcomeScoresHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := store.OutcomeScores(r.Context(), chi.URLParam(r, "outcomeID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// GET /program-outcomes/{poID}/stats?term=
func ProgramOutcomeStatsHandler(rep *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("term")
		if term == "" {
			http.Error(w, "term required", http.StatusBadRequest)
			return
		}
		s, err := rep.ProgramOutcomeStats(r.Context(), chi.URLParam(r, "poID"), term)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// GET /program-outcomes/{poID}/scores?term=
func ProgramOutcomeScoresHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := r.URL.Query().Get("term")
		if term == "" {
			http.Error(w, "term required", http.StatusBadRequest)
			return
		}
		rows, err := store.ProgramScores(r.Context(), chi.URLParam(r, "poID"), term)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// GET /assessments/{assessmentID}/stats
func AssessmentStatsHandler(rep *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := rep.AssessmentStats(r.Context(), chi.URLParam(r, "assessmentID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// GET /courses/{courseID}/averages
func CourseAveragesHandler(rep *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := rep.CourseAverages(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// GET /courses/{courseID}/distribution?bands=
func CourseDistributionHandler(rep *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bands := 10
		if v, err := strconv.Atoi(r.URL.Query().Get("bands")); err == nil && v > 0 {
			if v > 100 {
				v = 100
			}
			bands = v
		}
		d, err := rep.CourseDistribution(r.Context(), chi.URLParam(r, "courseID"), bands)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// GET /courses/{courseID}/at-risk
func AtRiskHandler(rep *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep2, err := rep.AtRisk(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rep2)
	}
}

// GET /students/{studentID}/overview
func StudentOverviewHandler(rep *report.Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := rep.StudentOverview(r.Context(), chi.URLParam(r, "studentID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}
