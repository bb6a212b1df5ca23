package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/internal/checkout"
	"github.com/cardmint/cardmint-backend/internal/email"
	"github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/internal/inventory"
	"github.com/cardmint/cardmint-backend/internal/orders"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/metrics"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/outbox/payloads"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Outcome is what a webhook delivery resolves to. Idempotent marks a
// replay answered from the ledger instead of new work.
type Outcome struct {
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	OrderNumber string     `json:"order_number,omitempty"`
	Idempotent  bool       `json:"idempotent"`
}

type ServiceParams struct {
	TransactionRunner txRunner
	WebhookRepo       Repository
	InventoryRepo     inventory.Repository
	OrdersRepo        orders.Repository
	OrdersService     *orders.Service
	FulfillmentRepo   fulfillment.Repository
	EmailRepo         email.Repository
	Outbox            *outbox.Service
	Metrics           *metrics.FulfillmentMetrics
	Logger            *logger.Logger
}

// Service turns settled provider events into orders, fulfillment records
// and email tasks, exactly once per event. The ledger row is committed
// before the work transaction starts; the work and the processed mark
// share one transaction, so a crash at any point leaves the row at
// "received" and the provider's retry resumes the work.
type Service struct {
	tx          txRunner
	webhookRepo Repository
	invRepo     inventory.Repository
	ordersRepo  orders.Repository
	orders      *orders.Service
	fulfillment fulfillment.Repository
	email       email.Repository
	outbox      *outbox.Service
	metrics     *metrics.FulfillmentMetrics
	logg        *logger.Logger
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.WebhookRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook repo required")
	}
	if params.InventoryRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory repo required")
	}
	if params.OrdersRepo == nil || params.OrdersService == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo and service required")
	}
	if params.FulfillmentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment repo required")
	}
	if params.EmailRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "email repo required")
	}
	return &Service{
		tx:          params.TransactionRunner,
		webhookRepo: params.WebhookRepo,
		invRepo:     params.InventoryRepo,
		ordersRepo:  params.OrdersRepo,
		orders:      params.OrdersService,
		fulfillment: params.FulfillmentRepo,
		email:       params.EmailRepo,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        params.Logger,
		now:         time.Now,
	}, nil
}

// HandleEvent dispatches one verified provider event. Unhandled event
// types are recorded in the ledger and marked skipped so their replays
// short-circuit like any other settled event.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	var (
		outcome *Outcome
		err     error
		skipped bool
	)
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if decodeErr := json.Unmarshal(event.Data.Raw, &session); decodeErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decode checkout session")
		}
		outcome, err = s.handleSessionCompleted(ctx, event.ID, string(event.Type), event.Data.Raw, &session)
	case stripe.EventTypeCheckoutSessionExpired:
		var session stripe.CheckoutSession
		if decodeErr := json.Unmarshal(event.Data.Raw, &session); decodeErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decode checkout session")
		}
		outcome, err = s.handleSessionExpired(ctx, event.ID, string(event.Type), event.Data.Raw, &session)
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if decodeErr := json.Unmarshal(event.Data.Raw, &charge); decodeErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, decodeErr, "decode charge")
		}
		outcome, err = s.handleChargeRefunded(ctx, event.ID, string(event.Type), event.Data.Raw, &charge)
	default:
		outcome, err = s.skipEvent(ctx, event.ID, string(event.Type), event.Data.Raw)
		skipped = true
	}

	if s.metrics != nil {
		result := "processed"
		switch {
		case err != nil:
			result = "error"
		case outcome != nil && outcome.Idempotent:
			result = "replayed"
		case skipped:
			result = "skipped"
		}
		s.metrics.IncWebhookEvent(string(event.Type), result)
	}
	return outcome, err
}

// beginEvent commits the ledger row before any work starts, so a later
// failure still leaves a row carrying the error and attempt count. The
// second return is non-nil when the event already settled and its stored
// outcome answers the delivery.
func (s *Service) beginEvent(ctx context.Context, eventID, eventType string, raw json.RawMessage) (*models.WebhookEvent, *Outcome, error) {
	row, created, err := s.webhookRepo.InsertIfAbsent(ctx, eventID, eventType, raw)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		if replay, done := s.replayOutcome(ctx, row); done {
			return row, replay, nil
		}
		// Prior attempt died mid-flight: resume. Every step of the work
		// is conditional or insert-if-absent, so partial work is picked
		// up, not repeated.
		if err := s.webhookRepo.IncrementAttempts(ctx, row.ID); err != nil {
			return nil, nil, err
		}
	}
	return row, nil, nil
}

// recordFailure keeps the last error on the ledger row for the operator
// dashboard. Best effort: the delivery already failed and the provider
// will retry regardless.
func (s *Service) recordFailure(ctx context.Context, rowID uuid.UUID, cause error) {
	recordCtx := context.WithoutCancel(ctx)
	if err := s.webhookRepo.RecordError(recordCtx, rowID, cause.Error()); err != nil && s.logg != nil {
		s.logg.Error(recordCtx, "record webhook failure", err)
	}
}

func (s *Service) skipEvent(ctx context.Context, eventID, eventType string, raw json.RawMessage) (*Outcome, error) {
	row, replay, err := s.beginEvent(ctx, eventID, eventType, raw)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}
	if err := s.webhookRepo.MarkSkipped(ctx, row.ID, s.now()); err != nil {
		return nil, err
	}
	return &Outcome{Idempotent: false}, nil
}

func (s *Service) handleSessionCompleted(ctx context.Context, eventID, eventType string, raw json.RawMessage, session *stripe.CheckoutSession) (*Outcome, error) {
	if session.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id missing")
	}

	row, replay, err := s.beginEvent(ctx, eventID, eventType, raw)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	var outcome Outcome
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		itemIDs, err := checkout.DecodeItemIDs(session.Metadata[checkout.MetadataItemIDs])
		if err != nil {
			return err
		}
		chargeRef := session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			chargeRef = session.PaymentIntent.ID
		}

		invRepo := s.invRepo.WithTx(tx)
		items, err := invRepo.FindByIDs(ctx, itemIDs)
		if err != nil {
			return err
		}
		if len(items) != len(itemIDs) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "session references unknown items").
				WithDetails(map[string]any{"session_id": session.ID})
		}

		for _, item := range items {
			won, err := invRepo.MarkSold(ctx, item.ID, chargeRef)
			if err != nil {
				return err
			}
			if !won && s.logg != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"item_id":    item.ID.String(),
					"session_id": session.ID,
				})
				s.logg.Warn(logCtx, "item already sold, continuing settlement")
			}
		}

		recipient := sessionEmail(session)
		draft := orders.Draft{
			ProviderSessionID: session.ID,
			ProviderPaymentID: &chargeRef,
			CustomerEmail:     recipient,
			TotalCents:        session.AmountTotal,
			Currency:          currencyFromSession(session),
			ShippingAddress:   addressFromSession(session),
			Items:             orderItems(items),
		}
		order, adopted, err := s.orders.Materialize(ctx, tx, draft)
		if err != nil {
			return err
		}

		sessionID := session.ID
		record := &models.FulfillmentRecord{
			Channel:           enums.ShipmentTypeOrder,
			ProviderSessionID: &sessionID,
			OrderID:           &order.ID,
			Status:            enums.FulfillmentStatusPending,
			ShippingAddress:   draft.ShippingAddress,
		}
		if recipient != "" {
			record.RecipientEmail = &recipient
		}
		if _, _, err := s.fulfillment.WithTx(tx).CreateIfAbsent(ctx, record); err != nil {
			return err
		}

		if recipient != "" {
			task, err := email.BuildOrderConfirmation(session.ID, order.ID, recipient, order.OrderNumber, order.TotalCents)
			if err != nil {
				return err
			}
			enqueued, err := s.email.WithTx(tx).EnqueueIfAbsent(ctx, task)
			if err != nil {
				return err
			}
			if enqueued && s.outbox != nil {
				if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventEmailTaskQueued,
					AggregateType: enums.AggregateEmailTask,
					AggregateID:   task.ID,
					Data: payloads.EmailTaskQueuedEvent{
						TaskID:    task.ID,
						Kind:      task.Kind,
						Recipient: task.Recipient,
						OrderID:   task.OrderID,
					},
				}); err != nil {
					return err
				}
			}
		}

		if s.outbox != nil {
			if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.OrderCreatedEvent{
					OrderID:           order.ID,
					OrderNumber:       order.OrderNumber,
					ProviderSessionID: session.ID,
					ItemIDs:           itemIDs,
					TotalCents:        order.TotalCents,
				},
			}); err != nil {
				return err
			}
		}

		if err := s.webhookRepo.WithTx(tx).MarkProcessed(ctx, row.ID, &sessionID, &order.ID, s.now()); err != nil {
			return err
		}
		outcome = Outcome{OrderID: &order.ID, OrderNumber: order.OrderNumber, Idempotent: adopted}
		return nil
	})
	if err != nil {
		s.recordFailure(ctx, row.ID, err)
		return nil, err
	}
	return &outcome, nil
}

func (s *Service) handleSessionExpired(ctx context.Context, eventID, eventType string, raw json.RawMessage, session *stripe.CheckoutSession) (*Outcome, error) {
	row, replay, err := s.beginEvent(ctx, eventID, eventType, raw)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	var outcome Outcome
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reservationID := session.Metadata[checkout.MetadataReservationID]
		if reservationID != "" {
			if _, err := s.invRepo.WithTx(tx).ReleaseBySession(ctx, reservationID); err != nil {
				return err
			}
		}

		sessionID := session.ID
		return s.webhookRepo.WithTx(tx).MarkProcessed(ctx, row.ID, &sessionID, nil, s.now())
	})
	if err != nil {
		s.recordFailure(ctx, row.ID, err)
		return nil, err
	}
	return &outcome, nil
}

func (s *Service) handleChargeRefunded(ctx context.Context, eventID, eventType string, raw json.RawMessage, charge *stripe.Charge) (*Outcome, error) {
	row, replay, err := s.beginEvent(ctx, eventID, eventType, raw)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	var outcome Outcome
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		chargeRef := charge.ID
		if charge.PaymentIntent != nil && charge.PaymentIntent.ID != "" {
			chargeRef = charge.PaymentIntent.ID
		}

		invRepo := s.invRepo.WithTx(tx)
		sold, err := invRepo.FindByChargeReference(ctx, chargeRef)
		if err != nil {
			return err
		}
		restored := make([]uuid.UUID, 0, len(sold))
		for _, item := range sold {
			won, err := invRepo.RestoreFromRefund(ctx, item.ID)
			if err != nil {
				return err
			}
			if won {
				restored = append(restored, item.ID)
			}
		}

		order, err := s.ordersRepo.WithTx(tx).FindByProviderPaymentID(ctx, chargeRef)
		if err != nil {
			return err
		}
		var orderID *uuid.UUID
		if order != nil {
			orderID = &order.ID
			refunded, err := s.orders.Refund(ctx, tx, order.ID, s.now())
			if err != nil {
				return err
			}
			if refunded && s.outbox != nil {
				if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventOrderRefunded,
					AggregateType: enums.AggregateOrder,
					AggregateID:   order.ID,
					Data: payloads.OrderRefundedEvent{
						OrderID:         order.ID,
						ChargeReference: chargeRef,
						RestoredItemIDs: restored,
						RefundedAt:      s.now(),
					},
				}); err != nil {
					return err
				}
			}
			if refunded && order.CustomerEmail != "" {
				task := &models.EmailTask{
					Kind:      enums.EmailTaskKindRefundNotice,
					DedupeKey: fmt.Sprintf("%s:%s", chargeRef, enums.EmailTaskKindRefundNotice),
					OrderID:   orderID,
					Recipient: order.CustomerEmail,
				}
				if _, err := s.email.WithTx(tx).EnqueueIfAbsent(ctx, task); err != nil {
					return err
				}
			}
			outcome = Outcome{OrderID: orderID, OrderNumber: order.OrderNumber}
		}

		return s.webhookRepo.WithTx(tx).MarkProcessed(ctx, row.ID, nil, orderID, s.now())
	})
	if err != nil {
		s.recordFailure(ctx, row.ID, err)
		return nil, err
	}
	return &outcome, nil
}

// replayOutcome resolves an already-settled ledger row. The second return
// is false when the row is still at "received" and work must resume.
func (s *Service) replayOutcome(ctx context.Context, row *models.WebhookEvent) (*Outcome, bool) {
	switch row.Status {
	case enums.WebhookEventStatusProcessed:
		outcome := Outcome{Idempotent: true, OrderID: row.OrderID}
		if row.OrderID != nil {
			if order, err := s.ordersRepo.FindByID(ctx, *row.OrderID); err == nil {
				outcome.OrderNumber = order.OrderNumber
			}
		}
		return &outcome, true
	case enums.WebhookEventStatusSkipped:
		return &Outcome{Idempotent: true}, true
	default:
		return nil, false
	}
}

func sessionEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

func currencyFromSession(session *stripe.CheckoutSession) enums.Currency {
	if session.Currency == "" {
		return enums.CurrencyUSD
	}
	if parsed, err := enums.ParseCurrency(strings.ToUpper(string(session.Currency))); err == nil {
		return parsed
	}
	return enums.CurrencyUSD
}

func addressFromSession(session *stripe.CheckoutSession) *types.Address {
	if session.CustomerDetails == nil || session.CustomerDetails.Address == nil {
		return nil
	}
	src := session.CustomerDetails.Address
	addr := &types.Address{
		Name:       session.CustomerDetails.Name,
		Line1:      src.Line1,
		City:       src.City,
		State:      src.State,
		PostalCode: src.PostalCode,
		Country:    src.Country,
	}
	if src.Line2 != "" {
		line2 := src.Line2
		addr.Line2 = &line2
	}
	if session.CustomerDetails.Phone != "" {
		phone := session.CustomerDetails.Phone
		addr.Phone = &phone
	}
	return addr
}

func orderItems(items []models.Item) []models.OrderItem {
	out := make([]models.OrderItem, len(items))
	for i, item := range items {
		out[i] = models.OrderItem{
			ItemID:     item.ID,
			Title:      item.Title,
			PriceCents: item.PriceCents,
		}
	}
	return out
}
