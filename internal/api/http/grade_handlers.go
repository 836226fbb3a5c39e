package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edumetrics/attain/internal/outcome"
)

// PUT /students/{studentID}/grades/{assessmentID}
func UpsertGradeHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RawScore float64 `json:"raw_score"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		g := outcome.GradeRecord{
			StudentID:    strings.TrimSpace(chi.URLParam(r, "studentID")),
			AssessmentID: strings.TrimSpace(chi.URLParam(r, "assessmentID")),
			RawScore:     req.RawScore,
		}
		created, err := store.UpsertGrade(r.Context(), g)
		if err != nil {
			writeErr(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, g)
	}
}

// DELETE /students/{studentID}/grades/{assessmentID}
func DeleteGradeHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.DeleteGrade(r.Context(), chi.URLParam(r, "studentID"), chi.URLParam(r, "assessmentID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PUT /courses/{courseID}/enrollments/{studentID}
func SetEnrollmentHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LetterGrade string `json:"letter_grade"`
		}
		if r.ContentLength > 0 && !decodeBody(w, r, &req) {
			return
		}
		e := outcome.Enrollment{
			StudentID:   chi.URLParam(r, "studentID"),
			CourseID:    chi.URLParam(r, "courseID"),
			LetterGrade: req.LetterGrade,
		}
		if err := store.SetEnrollment(r.Context(), e); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// DELETE /courses/{courseID}/enrollments/{studentID}
func RemoveEnrollmentHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.RemoveEnrollment(r.Context(), chi.URLParam(r, "studentID"), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /courses/{courseID}/enrollments
func ListEnrollmentsHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := store.EnrolledStudents(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"student_ids": ids})
	}
}
