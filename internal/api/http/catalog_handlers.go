package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edumetrics/attain/internal/outcome"
)

// Handlers only — routes stay in main.go.

func CreateTermHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t outcome.Term
		if !decodeBody(w, r, &t) {
			return
		}
		if err := store.CreateTerm(r.Context(), t); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, t)
	}
}

func CreateProgramHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p outcome.Program
		if !decodeBody(w, r, &p) {
			return
		}
		if err := store.CreateProgram(r.Context(), p); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func CreateProgramOutcomeHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var po outcome.ProgramOutcome
		if !decodeBody(w, r, &po) {
			return
		}
		po.ProgramID = chi.URLParam(r, "programID")
		if err := store.CreateProgramOutcome(r.Context(), po); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, po)
	}
}

func CreateCourseHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c outcome.Course
		if !decodeBody(w, r, &c) {
			return
		}
		if err := store.CreateCourse(r.Context(), c); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func GetCourseHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := store.GetCourse(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func CreateLearningOutcomeHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var lo outcome.LearningOutcome
		if !decodeBody(w, r, &lo) {
			return
		}
		lo.CourseID = chi.URLParam(r, "courseID")
		if err := store.CreateLearningOutcome(r.Context(), lo); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, lo)
	}
}

func ListCourseOutcomesHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		los, err := store.ListCourseOutcomes(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, los)
	}
}

func CreateAssessmentHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a outcome.Assessment
		if !decodeBody(w, r, &a) {
			return
		}
		a.CourseID = chi.URLParam(r, "courseID")
		if strings.TrimSpace(a.Type) == "" {
			a.Type = outcome.TypeOther
		}
		if err := store.CreateAssessment(r.Context(), a); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func ListCourseAssessmentsHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		as, err := store.ListCourseAssessments(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, as)
	}
}
