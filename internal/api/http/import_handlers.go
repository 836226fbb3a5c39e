package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/edumetrics/attain/internal/importer"
	"github.com/edumetrics/attain/internal/outcome"
)

const maxImportBytes = 32 << 20

// POST /import/grades
//
// Accepts three shapes: a multipart upload under the "file" field (xlsx or
// csv by filename), a raw xlsx body, or a JSON {"records": [...]} batch.
func ImportGradesHandler(imp *importer.Importer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := importRecords(r)
		if err != nil {
			http.Error(w, "parse import: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(records) == 0 {
			http.Error(w, "empty batch", http.StatusBadRequest)
			return
		}
		res, err := imp.ImportGrades(r.Context(), records)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func importRecords(r *http.Request) ([]outcome.GradeRecord, error) {
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			return nil, err
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if strings.HasSuffix(strings.ToLower(hdr.Filename), ".csv") {
			return importer.ParseCSV(f)
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImportBytes))
		if err != nil {
			return nil, err
		}
		return importer.ParseWorkbook(data)
	case strings.HasPrefix(ct, "text/csv"):
		return importer.ParseCSV(io.LimitReader(r.Body, maxImportBytes))
	case strings.HasPrefix(ct, "application/json"):
		var req struct {
			Records []outcome.GradeRecord `json:"records"`
		}
		if err := jsonDecode(r.Body, &req); err != nil {
			return nil, err
		}
		return req.Records, nil
	default:
		data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
		if err != nil {
			return nil, err
		}
		return importer.ParseWorkbook(data)
	}
}
