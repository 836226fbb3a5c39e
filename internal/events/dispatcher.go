package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/edumetrics/attain/internal/outcome"
)

// Dispatcher records every committed mutation in the event log and then
// forwards it to the recalc coordinator. Forwarding is synchronous: by the
// time a mutating request returns, derived scores are current.
type Dispatcher struct {
	repo *Repo
	next outcome.EventSink
	log  *zap.Logger
}

func NewDispatcher(repo *Repo, next outcome.EventSink, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{repo: repo, next: next, log: log}
}

var _ outcome.EventSink = (*Dispatcher)(nil)

func (d *Dispatcher) GradeChanged(ctx context.Context, studentID, courseID string) {
	d.append(ctx, TypeGradeChanged, studentID+"|"+courseID, map[string]string{
		"student_id": studentID, "course_id": courseID,
	})
	if d.next != nil {
		d.next.GradeChanged(ctx, studentID, courseID)
	}
}

func (d *Dispatcher) WeightChanged(ctx context.Context, edge outcome.Edge, courseID string) {
	d.append(ctx, TypeWeightChanged, edge.SourceID+"|"+edge.TargetID, map[string]interface{}{
		"kind": edge.Kind, "source_id": edge.SourceID, "target_id": edge.TargetID,
		"weight": edge.Weight, "course_id": courseID,
	})
	if d.next != nil {
		d.next.WeightChanged(ctx, edge, courseID)
	}
}

func (d *Dispatcher) AssessmentChanged(ctx context.Context, courseID string) {
	d.append(ctx, TypeAssessmentChanged, courseID, map[string]string{"course_id": courseID})
	if d.next != nil {
		d.next.AssessmentChanged(ctx, courseID)
	}
}

func (d *Dispatcher) EnrollmentChanged(ctx context.Context, studentID, courseID string, removed bool) {
	d.append(ctx, TypeEnrollmentChanged, studentID+"|"+courseID, map[string]interface{}{
		"student_id": studentID, "course_id": courseID, "removed": removed,
	})
	if d.next != nil {
		d.next.EnrollmentChanged(ctx, studentID, courseID, removed)
	}
}

func (d *Dispatcher) append(ctx context.Context, typ, key string, payload interface{}) {
	data, _ := json.Marshal(payload)
	if err := d.repo.Append(ctx, Event{Type: typ, Key: key, DataJSON: string(data)}); err != nil {
		// The mutation already committed; a lost log row is not worth
		// failing the request over.
		d.log.Warn("event log append failed", zap.String("type", typ), zap.Error(err))
	}
}
