package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edumetrics/attain/internal/outcome"
)

func edgeFromRequest(r *http.Request) (outcome.Edge, bool) {
	kind := outcome.EdgeKind(chi.URLParam(r, "kind"))
	if kind != outcome.EdgeAssessmentLO && kind != outcome.EdgeLOPO {
		return outcome.Edge{}, false
	}
	return outcome.Edge{
		Kind:     kind,
		SourceID: strings.TrimSpace(chi.URLParam(r, "sourceID")),
		TargetID: strings.TrimSpace(chi.URLParam(r, "targetID")),
	}, true
}

// PUT /edges/{kind}/{sourceID}/{targetID}
func SetEdgeWeightHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := edgeFromRequest(r)
		if !ok {
			http.Error(w, "unknown edge kind", http.StatusBadRequest)
			return
		}
		var req struct {
			Weight float64 `json:"weight"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		e.Weight = req.Weight
		if err := store.SetEdgeWeight(r.Context(), e); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// DELETE /edges/{kind}/{sourceID}/{targetID}
func DeleteEdgeHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := edgeFromRequest(r)
		if !ok {
			http.Error(w, "unknown edge kind", http.StatusBadRequest)
			return
		}
		if err := store.DeleteEdge(r.Context(), e); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /edges/{kind}/{sourceID}/budget
func RemainingBudgetHandler(store *outcome.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind := outcome.EdgeKind(chi.URLParam(r, "kind"))
		if kind != outcome.EdgeAssessmentLO && kind != outcome.EdgeLOPO {
			http.Error(w, "unknown edge kind", http.StatusBadRequest)
			return
		}
		sourceID := chi.URLParam(r, "sourceID")
		rem, err := store.RemainingBudget(r.Context(), kind, sourceID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"source_id": sourceID, "remaining": rem})
	}
}
