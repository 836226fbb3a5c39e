package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// RecalcNotifier appends recompute outcomes to the event log.
type RecalcNotifier struct {
	repo *Repo
	log  *zap.Logger
}

func NewRecalcNotifier(repo *Repo, log *zap.Logger) *RecalcNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &RecalcNotifier{repo: repo, log: log}
}

func (n *RecalcNotifier) RecalculationCommitted(ctx context.Context, runID, studentID, courseID string) {
	n.record(ctx, TypeRecalculationCommitted, runID, studentID, courseID, "")
}

func (n *RecalcNotifier) RecalculationFailed(ctx context.Context, runID, studentID, courseID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	n.record(ctx, TypeRecalculationFailed, runID, studentID, courseID, msg)
}

func (n *RecalcNotifier) record(ctx context.Context, typ, runID, studentID, courseID, errMsg string) {
	data, _ := json.Marshal(map[string]string{
		"run_id": runID, "student_id": studentID, "course_id": courseID, "error": errMsg,
	})
	if err := n.repo.Append(ctx, Event{Type: typ, Key: studentID + "|" + courseID, DataJSON: string(data)}); err != nil {
		n.log.Warn("event log append failed", zap.String("type", typ), zap.Error(err))
	}
}
