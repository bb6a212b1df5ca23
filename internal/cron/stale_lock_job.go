package cron

import (
	"context"
	"fmt"

	"github.com/cardmint/cardmint-backend/pkg/logger"
)

const defaultStaleLockBatch = 50

// StaleLockJobParams configure the label lock observability job.
type StaleLockJobParams struct {
	Logger      *logger.Logger
	Fulfillment staleLockReporter
	Batch       int
}

type staleLockReporter interface {
	ReportStaleLocks(ctx context.Context, limit int) (int, error)
}

// NewStaleLockJob builds the job that surfaces label purchase leases
// whose holders went quiet. It only reports; takeover happens inline on
// the next purchase attempt.
func NewStaleLockJob(params StaleLockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment service required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultStaleLockBatch
	}
	return &staleLockJob{
		logg:        params.Logger,
		fulfillment: params.Fulfillment,
		batch:       batch,
	}, nil
}

type staleLockJob struct {
	logg        *logger.Logger
	fulfillment staleLockReporter
	batch       int
}

func (j *staleLockJob) Name() string { return "stale-label-locks" }

func (j *staleLockJob) Run(ctx context.Context) error {
	found, err := j.fulfillment.ReportStaleLocks(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("report stale label locks: %w", err)
	}
	if found > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{"stale_locks": found})
		j.logg.Info(logCtx, "stale label lock report complete")
	}
	return nil
}
