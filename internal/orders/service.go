package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	retry "github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/db"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/metrics"
	"github.com/cardmint/cardmint-backend/pkg/pagination"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

const (
	orderNumberPrefix = "CM"
	dayPrefixLayout   = "20060102"
	maxAllocAttempts  = 3
)

// Draft is the order-to-be handed in by the webhook materializer. The
// provider session id is the idempotency key; everything else is a
// snapshot of the settled checkout.
type Draft struct {
	ProviderSessionID string
	ProviderPaymentID *string
	CustomerEmail     string
	TotalCents        int64
	Currency          enums.Currency
	ShippingAddress   *types.Address
	Items             []models.OrderItem
}

// Service owns order materialization and the per-day order numbering.
type Service struct {
	db      *gorm.DB
	repo    Repository
	metrics *metrics.FulfillmentMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(gdb *gorm.DB, repository Repository, m *metrics.FulfillmentMetrics, logg *logger.Logger) *Service {
	return &Service{
		db:      gdb,
		repo:    repository,
		metrics: m,
		logg:    logg,
		now:     time.Now,
	}
}

// FormatOrderNumber renders the human-facing number for a day prefix and
// sequence, e.g. CM-20260831-0007.
func FormatOrderNumber(dayPrefix string, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", orderNumberPrefix, dayPrefix, seq)
}

// Materialize creates the order for a settled checkout session exactly
// once. The second return is true when a competing writer already
// materialized the session and that order was adopted instead.
//
// Numbering races surface as unique violations on the (day_prefix,
// day_seq) index; those are retried with a fresh sequence read up to
// three times. A violation on the provider session index means another
// process won the whole materialization, which is success, not failure.
func (s *Service) Materialize(ctx context.Context, tx *gorm.DB, draft Draft) (*models.Order, bool, error) {
	if draft.ProviderSessionID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "provider session id is required")
	}
	if draft.CustomerEmail == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}

	repository := s.repo.WithTx(tx)

	if existing, err := repository.FindByProviderSessionID(ctx, draft.ProviderSessionID); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup order by session")
	} else if existing != nil {
		return existing, true, nil
	}

	dayPrefix := s.now().UTC().Format(dayPrefixLayout)

	runner := tx
	if runner == nil {
		runner = s.db
	}

	var (
		created *models.Order
		adopted bool
	)
	backoff := retry.WithMaxRetries(maxAllocAttempts-1, retry.NewConstant(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		// Each attempt runs in a nested transaction. On Postgres a unique
		// violation aborts every later statement in the transaction, so the
		// violation has to be rolled back to a savepoint before the
		// sequence re-read or the adopt lookup can run.
		var order *models.Order
		createErr := runner.Transaction(func(attemptTx *gorm.DB) error {
			attemptRepo := s.repo.WithTx(attemptTx)
			seq, err := attemptRepo.MaxDaySeq(ctx, dayPrefix)
			if err != nil {
				return err
			}

			order = &models.Order{
				ID:                uuid.New(),
				DayPrefix:         dayPrefix,
				DaySeq:            seq + 1,
				OrderNumber:       FormatOrderNumber(dayPrefix, seq+1),
				ProviderSessionID: draft.ProviderSessionID,
				ProviderPaymentID: draft.ProviderPaymentID,
				CustomerEmail:     draft.CustomerEmail,
				TotalCents:        draft.TotalCents,
				Currency:          draft.Currency,
				ShippingAddress:   draft.ShippingAddress,
				Status:            enums.OrderStatusConfirmed,
				Items:             draft.Items,
			}
			return attemptRepo.Create(ctx, order)
		})
		if createErr == nil {
			created = order
			return nil
		}

		// A session collision means a competitor finished first: adopt
		// theirs and stop retrying.
		if db.IsUniqueViolation(createErr, "ux_orders_provider_session") {
			existing, lookupErr := repository.FindByProviderSessionID(ctx, draft.ProviderSessionID)
			if lookupErr != nil {
				return lookupErr
			}
			if existing != nil {
				created = existing
				adopted = true
				return nil
			}
			return createErr
		}

		if db.IsUniqueViolation(createErr, "ux_orders_day_seq") ||
			db.IsUniqueViolation(createErr, "ux_orders_order_number") {
			if s.metrics != nil {
				s.metrics.IncOrderNumberConflict()
			}
			return retry.RetryableError(createErr)
		}
		return createErr
	})
	if err != nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"provider_session_id": draft.ProviderSessionID,
				"day_prefix":          dayPrefix,
			})
			s.logg.Error(logCtx, "order number allocation exhausted retries", err)
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "materialize order")
	}
	return created, adopted, nil
}

// Refund marks the order refunded. Repeated refund events are no-ops.
func (s *Service) Refund(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, at time.Time) (bool, error) {
	won, err := s.repo.WithTx(tx).MarkRefunded(ctx, orderID, at)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order refunded")
	}
	return won, nil
}

// Get returns one order with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return order, nil
}

// List returns recent orders, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.Order, error) {
	rows, err := s.repo.List(ctx, pagination.NormalizeLimit(limit), pagination.NormalizeOffset(offset))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return rows, nil
}
