package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/cardmint/cardmint-backend/pkg/logger"
)

const defaultSweepBatch = 200

// ReservationSweepJobParams configure the expired-hold sweeper.
type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Inventory reservationReleaser
	Batch     int
}

type reservationReleaser interface {
	ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// NewReservationSweepJob builds the job that returns expired checkout
// holds to stock. The sweep is a safety net: an expired hold is already
// claimable by a competing conditional update before the sweep sees it.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &reservationSweepJob{
		logg:      params.Logger,
		inventory: params.Inventory,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type reservationSweepJob struct {
	logg      *logger.Logger
	inventory reservationReleaser
	batch     int
	now       func() time.Time
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	released, err := j.inventory.ReleaseExpired(ctx, j.now().UTC(), j.batch)
	if err != nil {
		return fmt.Errorf("release expired reservations: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"released": released})
	j.logg.Info(logCtx, "reservation sweep complete")
	return nil
}
