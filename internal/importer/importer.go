// Package importer absorbs bulk grade updates: a batch of validated
// records is applied as one set of upserts, followed by a single recompute
// pass per affected student.
package importer

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edumetrics/attain/internal/outcome"
)

// Store is the write slice the importer needs; *outcome.SQLStore
// satisfies it.
type Store interface {
	BulkUpsertGrades(ctx context.Context, records []outcome.GradeRecord) (outcome.BulkResult, error)
}

// Recomputer runs recompute passes after the batch lands; *recalc.Coordinator
// satisfies it.
type Recomputer interface {
	RecomputeStudents(ctx context.Context, courseID string, studentIDs []string, parallel int) error
}

// Result is the per-batch outcome in the created/updated/skipped shape the
// rest of the system reports for imports.
type Result struct {
	BatchID string                 `json:"batch_id"`
	Created int                    `json:"created"`
	Updated int                    `json:"updated"`
	Skipped []outcome.SkippedGrade `json:"skipped"`
}

type Importer struct {
	store    Store
	recomp   Recomputer
	log      *zap.Logger
	parallel int
}

func New(store Store, recomp Recomputer, log *zap.Logger, parallel int) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	if parallel <= 0 {
		parallel = 4
	}
	return &Importer{store: store, recomp: recomp, log: log, parallel: parallel}
}

// ImportGrades applies the batch and recomputes. Per-record failures are
// reported as skips, not errors; the batch succeeds with whatever subset
// passed validation. The recompute runs once per affected student no
// matter how many of their grades the batch touched.
func (i *Importer) ImportGrades(ctx context.Context, records []outcome.GradeRecord) (Result, error) {
	batchID := uuid.NewString()
	bulk, err := i.store.BulkUpsertGrades(ctx, records)
	if err != nil {
		return Result{}, err
	}

	for courseID, students := range bulk.Affected {
		if err := i.recomp.RecomputeStudents(ctx, courseID, students, i.parallel); err != nil {
			return Result{}, err
		}
	}

	i.log.Info("grade import finished",
		zap.String("batch", batchID),
		zap.Int("created", bulk.Created),
		zap.Int("updated", bulk.Updated),
		zap.Int("skipped", len(bulk.Skipped)))

	return Result{
		BatchID: batchID,
		Created: bulk.Created,
		Updated: bulk.Updated,
		Skipped: bulk.Skipped,
	}, nil
}
