package events

import (
	"context"
	"database/sql"
	"time"
)

// Event types emitted by the engine.
const (
	TypeGradeChanged           = "GradeChanged"
	TypeWeightChanged          = "WeightChanged"
	TypeAssessmentChanged      = "AssessmentChanged"
	TypeEnrollmentChanged      = "EnrollmentChanged"
	TypeRecalculationCommitted = "RecalculationCommitted"
	TypeRecalculationFailed    = "RecalculationFailed"
)

type Event struct {
	Offset    int64  `json:"offset"`
	Type      string `json:"type"`
	Key       string `json:"key"` // natural key, e.g. studentID|courseID
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}

type Repo struct{ db *sql.DB }

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4)`,
		e.Type, e.Key, e.DataJSON, time.Now().Unix())
	return err
}

// Recent returns the newest events, most recent first. Used by the
// observability endpoint.
func (r *Repo) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT "offset", typ, key, data, created_at FROM event_log ORDER BY "offset" DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Offset, &e.Type, &e.Key, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
