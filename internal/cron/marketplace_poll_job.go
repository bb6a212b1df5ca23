package cron

import (
	"context"
	"fmt"

	"github.com/cardmint/cardmint-backend/pkg/logger"
)

const defaultMarketplacePollLimit = 50

// MarketplacePollJobParams configure the Square order poll.
type MarketplacePollJobParams struct {
	Logger   *logger.Logger
	Importer marketplaceImporter
	Limit    int
}

type marketplaceImporter interface {
	ImportOpenOrders(ctx context.Context, limit int) (int, error)
}

// NewMarketplacePollJob builds the job that pulls open Square orders
// into the fulfillment table.
func NewMarketplacePollJob(params MarketplacePollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Importer == nil {
		return nil, fmt.Errorf("marketplace importer required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultMarketplacePollLimit
	}
	return &marketplacePollJob{
		logg:     params.Logger,
		importer: params.Importer,
		limit:    limit,
	}, nil
}

type marketplacePollJob struct {
	logg     *logger.Logger
	importer marketplaceImporter
	limit    int
}

func (j *marketplacePollJob) Name() string { return "marketplace-poll" }

func (j *marketplacePollJob) Run(ctx context.Context) error {
	imported, err := j.importer.ImportOpenOrders(ctx, j.limit)
	if err != nil {
		return fmt.Errorf("import marketplace orders: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"imported": imported})
	j.logg.Info(logCtx, "marketplace poll complete")
	return nil
}
