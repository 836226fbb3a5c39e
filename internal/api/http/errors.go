package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/edumetrics/attain/internal/outcome"
)

func jsonDecode(r io.Reader, v any) error { return json.NewDecoder(r).Decode(v) }

// writeJSON encodes v with a status code. Encode errors after the header
// is written cannot be reported, so they are ignored.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the store's error taxonomy onto HTTP statuses. Budget
// rejections include the remaining headroom so a client can clamp and retry.
func writeErr(w http.ResponseWriter, err error) {
	var ve *outcome.ValidationError
	var be *outcome.WeightBudgetError
	var re *outcome.ReferentialError
	switch {
	case errors.Is(err, outcome.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &be):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     be.Error(),
			"source_id": be.SourceID,
			"requested": be.Requested,
			"remaining": be.Remaining,
		})
	case errors.As(err, &re):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": re.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}
