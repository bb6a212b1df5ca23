package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// PrintRecoveryJobParams configure the print queue housekeeping job.
type PrintRecoveryJobParams struct {
	Logger     *logger.Logger
	PrintQueue printQueueMaintainer
}

type printQueueMaintainer interface {
	RecoverStuck(ctx context.Context) (int64, error)
	ReportQueueDepth(ctx context.Context) error
	OfflineAgents(ctx context.Context) ([]models.PrintAgent, error)
}

// NewPrintRecoveryJob builds the job that rescues abandoned print jobs,
// refreshes the depth gauges, and flags silent agents.
func NewPrintRecoveryJob(params PrintRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.PrintQueue == nil {
		return nil, fmt.Errorf("print queue service required")
	}
	return &printRecoveryJob{
		logg:  params.Logger,
		queue: params.PrintQueue,
	}, nil
}

type printRecoveryJob struct {
	logg  *logger.Logger
	queue printQueueMaintainer
}

func (j *printRecoveryJob) Name() string { return "print-queue-recovery" }

func (j *printRecoveryJob) Run(ctx context.Context) error {
	var errs []error

	recovered, err := j.queue.RecoverStuck(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("recover stuck print jobs: %w", err))
	} else if recovered > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{"recovered": recovered})
		j.logg.Info(logCtx, "stuck print jobs recovered")
	}

	if err := j.queue.ReportQueueDepth(ctx); err != nil {
		errs = append(errs, fmt.Errorf("report queue depth: %w", err))
	}

	offline, err := j.queue.OfflineAgents(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list offline agents: %w", err))
	} else {
		for _, agent := range offline {
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"agent":        agent.Name,
				"last_seen_at": agent.LastSeenAt,
			})
			j.logg.Warn(logCtx, "print agent has stopped heartbeating")
		}
	}

	return multierr.Combine(errs...)
}
