package recalc

import (
	"context"
	"database/sql"
	"time"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCommitted State = "committed"
	StateFailed    State = "failed"
)

// Run is one recompute request for a (student, course) key.
type Run struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	State     State  `json:"state"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// RunLog persists run state transitions for operational visibility.
type RunLog interface {
	Begin(ctx context.Context, r Run) error
	Update(ctx context.Context, r Run) error
}

type nopRunLog struct{}

func (nopRunLog) Begin(context.Context, Run) error  { return nil }
func (nopRunLog) Update(context.Context, Run) error { return nil }

// SQLRunLog stores runs in the recalc_runs table.
type SQLRunLog struct{ db *sql.DB }

func NewSQLRunLog(db *sql.DB) *SQLRunLog { return &SQLRunLog{db: db} }

func (l *SQLRunLog) Begin(ctx context.Context, r Run) error {
	ts := time.Now().Unix()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO recalc_runs (id,student_id,course_id,state,attempts,error,created_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.StudentID, r.CourseID, string(r.State), r.Attempts, r.Error, ts, ts)
	return err
}

func (l *SQLRunLog) Update(ctx context.Context, r Run) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE recalc_runs SET state=$1, attempts=$2, error=$3, updated_at=$4 WHERE id=$5`,
		string(r.State), r.Attempts, r.Error, time.Now().Unix(), r.ID)
	return err
}

// Failed lists terminally failed runs for retry by an operator.
func (l *SQLRunLog) Failed(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id,student_id,course_id,state,attempts,error FROM recalc_runs
		 WHERE state='failed' ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var st string
		if err := rows.Scan(&r.ID, &r.StudentID, &r.CourseID, &st, &r.Attempts, &r.Error); err != nil {
			return nil, err
		}
		r.State = State(st)
		out = append(out, r)
	}
	return out, rows.Err()
}
