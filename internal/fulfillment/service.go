package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/config"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/metrics"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/outbox/payloads"
	"github.com/cardmint/cardmint-backend/pkg/pagination"
	"github.com/cardmint/cardmint-backend/pkg/shipping"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

// labelPurchaser is the slice of the carrier client this service needs.
type labelPurchaser interface {
	PurchaseLabel(ctx context.Context, req shipping.PurchaseRequest) (*shipping.Label, error)
	VoidLabel(ctx context.Context, shipmentID string) error
}

// printEnqueuer hands purchased labels to the print pipeline.
type printEnqueuer interface {
	EnqueueLabelJob(ctx context.Context, shipmentType enums.ShipmentType, shipmentID uuid.UUID, labelURL string) (*models.PrintQueueJob, bool, error)
}

// Service serializes label purchases across operators and channels. The
// carrier charges money on every successful purchase, so the row-level
// lease on the fulfillment record is the only thing standing between a
// double click and a double charge.
type Service struct {
	db         *gorm.DB
	repo       Repository
	shipper    labelPurchaser
	printQueue printEnqueuer
	events     *outbox.Service
	metrics    *metrics.FulfillmentMetrics
	cfg        config.FulfillmentConfig
	logg       *logger.Logger
	now        func() time.Time
}

type ServiceParams struct {
	DB         *gorm.DB
	Repo       Repository
	Shipper    labelPurchaser
	PrintQueue printEnqueuer
	Events     *outbox.Service
	Metrics    *metrics.FulfillmentMetrics
	Config     config.FulfillmentConfig
	Logger     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Shipper == nil {
		return nil, errors.New("shipping client is required")
	}
	if params.PrintQueue == nil {
		return nil, errors.New("print queue is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:         params.DB,
		repo:       params.Repo,
		shipper:    params.Shipper,
		printQueue: params.PrintQueue,
		events:     params.Events,
		metrics:    params.Metrics,
		cfg:        params.Config,
		logg:       params.Logger,
		now:        time.Now,
	}, nil
}

// RecordForOrder registers the direct-checkout side of a shipment. Replays
// return the existing record.
func (s *Service) RecordForOrder(ctx context.Context, providerSessionID string, orderID uuid.UUID, recipientEmail *string, address *types.Address) (*models.FulfillmentRecord, error) {
	if providerSessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider session id is required")
	}
	record := &models.FulfillmentRecord{
		Channel:           enums.ShipmentTypeOrder,
		ProviderSessionID: &providerSessionID,
		OrderID:           &orderID,
		Status:            enums.FulfillmentStatusPending,
		RecipientEmail:    recipientEmail,
		ShippingAddress:   address,
	}
	got, _, err := s.repo.CreateIfAbsent(ctx, record)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create fulfillment record")
	}
	return got, nil
}

// PurchaseLabel buys a shipping label for the record, exactly once. The
// second return is true when a prior purchase already settled and that
// label was returned instead of charging the carrier again.
//
// The purchase walks four stages: review gate, lease acquisition, the
// carrier call, and settlement. Losing the lease at settlement means a
// competing purchase finished first; this copy of the label is voided so
// the duplicate charge is refunded.
func (s *Service) PurchaseLabel(ctx context.Context, recordID uuid.UUID, operatorID uuid.UUID, overrideReason *string) (*models.FulfillmentRecord, bool, error) {
	record, err := s.findRecord(ctx, recordID)
	if err != nil {
		return nil, false, err
	}

	// A recorded tracking number means a prior purchase settled. Repair
	// the print job if the earlier run died between settlement and
	// enqueue, then report success.
	if record.TrackingNumber != nil {
		if record.LabelURL != nil {
			s.ensurePrintJob(ctx, record.Channel, record.ID, *record.LabelURL)
		}
		return record, true, nil
	}

	if record.RequiresManualReview && record.ReviewedAt == nil {
		if overrideReason == nil || *overrideReason == "" {
			return nil, false, pkgerrors.New(pkgerrors.CodeForbidden, "record requires manual review before label purchase")
		}
		audit := &models.ReviewAudit{
			FulfillmentRecordID: record.ID,
			OperatorID:          &operatorID,
			Reason:              *overrideReason,
		}
		if err := s.repo.CreateReviewAudit(ctx, audit); err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record review override")
		}
	}

	now := s.now()
	won, err := s.repo.TryAcquireLabelLock(ctx, recordID, now, now.Add(-s.cfg.LabelLockStaleAfter))
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "acquire label lock")
	}
	if !won {
		if s.metrics != nil {
			s.metrics.IncLockContention(string(record.Channel))
		}
		// The loss is either a settled purchase or a live holder.
		current, err := s.findRecord(ctx, recordID)
		if err != nil {
			return nil, false, err
		}
		if current.TrackingNumber != nil {
			return current, true, nil
		}
		return nil, false, pkgerrors.New(pkgerrors.CodeConflict, "label purchase already in progress")
	}

	settled := false
	defer func() {
		if settled {
			return
		}
		// The request context may already be cancelled when the carrier
		// call fails; the release must still reach the database or the
		// lease strands until the staleness window.
		releaseCtx := context.WithoutCancel(ctx)
		if err := s.repo.ReleaseLabelLock(releaseCtx, recordID); err != nil {
			s.logg.Error(releaseCtx, "release label lock", err)
		}
	}()

	if record.ShippingAddress == nil || !record.ShippingAddress.Complete() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete")
	}

	label, err := s.shipper.PurchaseLabel(ctx, shipping.PurchaseRequest{
		Reference:   recordID.String(),
		ToAddress:   *record.ShippingAddress,
		FromAddress: s.cfg.ShipFromAddress(),
		WeightOz:    s.cfg.DefaultWeightOz,
		Service:     s.cfg.DefaultService,
	})
	if err != nil {
		return nil, false, err
	}

	completed, err := s.repo.CompleteLabelPurchase(ctx, recordID, LabelResult{
		Carrier:        label.Carrier,
		TrackingNumber: label.TrackingNumber,
		LabelURL:       label.LabelURL,
		LabelCostCents: label.RateCents,
	}, s.now())
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle label purchase")
	}
	if !completed {
		// Another holder settled first; this label is a duplicate charge.
		if voidErr := s.shipper.VoidLabel(ctx, label.ShipmentID); voidErr != nil {
			s.logg.Error(ctx, "void duplicate label", voidErr)
		}
		return nil, false, pkgerrors.New(pkgerrors.CodeConflict, "competing label purchase settled first")
	}
	settled = true

	s.ensurePrintJob(ctx, record.Channel, record.ID, label.LabelURL)

	if s.events != nil {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventLabelPurchased,
				AggregateType: enums.AggregateFulfillmentRecord,
				AggregateID:   record.ID,
				Data: payloads.LabelPurchasedEvent{
					ShipmentType:   record.Channel,
					ShipmentID:     record.ID,
					TrackingNumber: label.TrackingNumber,
					Carrier:        label.Carrier,
					PurchasedBy:    operatorID.String(),
				},
			})
		})
		if err != nil {
			s.logg.Error(ctx, "emit label purchased event", err)
		}
	}

	settledRecord, err := s.findRecord(ctx, recordID)
	return settledRecord, false, err
}

func (s *Service) ensurePrintJob(ctx context.Context, channel enums.ShipmentType, recordID uuid.UUID, labelURL string) {
	if _, _, err := s.printQueue.EnqueueLabelJob(ctx, channel, recordID, labelURL); err != nil {
		s.logg.Error(ctx, "enqueue label print job", err)
	}
}

// Review clears the manual review gate.
func (s *Service) Review(ctx context.Context, recordID uuid.UUID, operatorID uuid.UUID, note *string) error {
	won, err := s.repo.MarkReviewed(ctx, recordID, operatorID, note, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark reviewed")
	}
	if !won {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "record is already reviewed")
	}
	return nil
}

// FlagForReview raises or lowers the manual review requirement.
func (s *Service) FlagForReview(ctx context.Context, recordID uuid.UUID, required bool) error {
	if err := s.repo.SetManualReview(ctx, recordID, required); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set manual review")
	}
	return nil
}

// MarkShipped records the handoff to the carrier. It requires a purchased
// label and settles once.
func (s *Service) MarkShipped(ctx context.Context, recordID uuid.UUID) error {
	won, err := s.repo.MarkShipped(ctx, recordID, s.now())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark shipped")
	}
	if !won {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "record has no label or is already shipped")
	}
	return nil
}

// ReportStaleLocks logs leases that outlived the staleness window. The
// locks self-heal on the next purchase attempt; this is operator
// visibility, not recovery.
func (s *Service) ReportStaleLocks(ctx context.Context, limit int) (int, error) {
	cutoff := s.now().Add(-s.cfg.LabelLockStaleAfter)
	stale, err := s.repo.FindStaleLocks(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find stale label locks")
	}
	for _, record := range stale {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"fulfillment_record_id": record.ID.String(),
			"locked_at":             record.LabelPurchaseLockedAt,
		})
		s.logg.Warn(logCtx, "label purchase lock is stale")
	}
	return len(stale), nil
}

func (s *Service) Get(ctx context.Context, recordID uuid.UUID) (*models.FulfillmentRecord, error) {
	return s.findRecord(ctx, recordID)
}

func (s *Service) List(ctx context.Context, status *enums.FulfillmentStatus, limit, offset int) ([]models.FulfillmentRecord, error) {
	rows, err := s.repo.List(ctx, status, pagination.NormalizeLimit(limit), pagination.NormalizeOffset(offset))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list fulfillment records")
	}
	return rows, nil
}

// StatusCounts powers the fulfillment dashboard widget.
func (s *Service) StatusCounts(ctx context.Context) (map[enums.FulfillmentStatus]int64, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count fulfillment records")
	}
	return counts, nil
}

func (s *Service) findRecord(ctx context.Context, recordID uuid.UUID) (*models.FulfillmentRecord, error) {
	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fulfillment record")
	}
	return record, nil
}
