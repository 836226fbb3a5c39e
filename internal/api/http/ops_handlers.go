package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edumetrics/attain/internal/events"
	"github.com/edumetrics/attain/internal/recalc"
)

func limitParam(r *http.Request) int {
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		if v > 500 {
			v = 500
		}
		return v
	}
	return 50
}

// GET /events?limit=
func RecentEventsHandler(repo *events.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evs, err := repo.Recent(r.Context(), limitParam(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, evs)
	}
}

// GET /recalc/failed?limit=
func FailedRunsHandler(runs *recalc.SQLRunLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rr, err := runs.Failed(r.Context(), limitParam(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rr)
	}
}

// POST /courses/{courseID}/recompute
//
// Manual full-course recompute, the operator's remedy after failed runs.
func RecomputeCourseHandler(coord *recalc.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courseID := chi.URLParam(r, "courseID")
		if err := coord.RecomputeCourse(r.Context(), courseID); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"course_id": courseID, "status": "recomputed"})
	}
}
