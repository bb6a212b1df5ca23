package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/outbox/payloads"
	"github.com/cardmint/cardmint-backend/pkg/pagination"
)

// Service wraps the reservation ledger with lot semantics, the expiry
// sweep, and outbox emission.
type Service struct {
	db     *gorm.DB
	repo   Repository
	events *outbox.Service
	logg   *logger.Logger
}

// NewService builds the inventory service.
func NewService(db *gorm.DB, repository Repository, events *outbox.Service, logg *logger.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repository,
		events: events,
		logg:   logg,
	}
}

// CreateItem registers a new item at intake.
func (s *Service) CreateItem(ctx context.Context, item *models.Item) (*models.Item, error) {
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item is required")
	}
	if item.SKU == "" || item.Title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and title are required")
	}
	if item.PriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create item")
	}
	return item, nil
}

// GetItems loads items by id; missing ids are simply absent from the result.
func (s *Service) GetItems(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	items, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load items")
	}
	return items, nil
}

// ListInStock returns items currently open for sale.
func (s *Service) ListInStock(ctx context.Context, limit, offset int) ([]models.Item, error) {
	items, err := s.repo.ListInStock(ctx, pagination.NormalizeLimit(limit), pagination.NormalizeOffset(offset))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list items")
	}
	return items, nil
}

// ReserveLot places an expiring hold on every item for one session,
// all or nothing. Holds already acquired in this attempt are released on
// the first losing item, on any error, and on a panic unwinding through
// this call, so no partial lot ever survives.
func (s *Service) ReserveLot(ctx context.Context, itemIDs []uuid.UUID, sessionID string, ttl time.Duration) (err error) {
	if len(itemIDs) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	if ttl <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation ttl must be positive")
	}

	expiresAt := time.Now().Add(ttl)

	defer func() {
		r := recover()
		if r == nil && err == nil {
			return
		}
		s.rollbackHolds(ctx, sessionID)
		if r != nil {
			panic(r)
		}
	}()

	for _, itemID := range itemIDs {
		won, rerr := s.repo.Reserve(ctx, itemID, sessionID, expiresAt)
		if rerr != nil {
			err = pkgerrors.Wrap(pkgerrors.CodeInternal, rerr, "reserve item")
			return err
		}
		if !won {
			err = pkgerrors.New(pkgerrors.CodeConflict, "item is not available").
				WithDetails(map[string]any{"kind": "ITEM_NOT_AVAILABLE", "item_id": itemID.String()})
			return err
		}
	}
	return nil
}

// Reserve places a hold on a single item.
func (s *Service) Reserve(ctx context.Context, itemID uuid.UUID, sessionID string, ttl time.Duration) error {
	return s.ReserveLot(ctx, []uuid.UUID{itemID}, sessionID, ttl)
}

// ReleaseSession drops every hold the session owns and emits a release
// event. Releasing an already-released session is a successful no-op.
func (s *Service) ReleaseSession(ctx context.Context, sessionID, reason string) (int64, error) {
	if sessionID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	var released int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		itemIDs, err := reservedItemIDs(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		count, err := txRepo.ReleaseBySession(ctx, sessionID)
		if err != nil {
			return err
		}
		released = count
		if count == 0 || s.events == nil {
			return nil
		}

		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationReleased,
			AggregateType: enums.AggregateItem,
			AggregateID:   itemIDs[0],
			Data: payloads.ReservationReleasedEvent{
				SessionID:  sessionID,
				ItemIDs:    itemIDs,
				ReleasedAt: time.Now(),
				Reason:     reason,
			},
		})
	})
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release session")
	}
	return released, nil
}

// ReleaseExpired is the TTL sweep: it finds reservations past expiry and
// releases each one conditionally, independent of webhook delivery.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.repo.FindExpiredReservations(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find expired reservations")
	}
	if len(expired) == 0 {
		return 0, nil
	}

	released := 0
	for _, item := range expired {
		sessionID := ""
		if item.ReservationSessionID != nil {
			sessionID = *item.ReservationSessionID
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			won, rerr := s.repo.WithTx(tx).Release(ctx, item.ID)
			if rerr != nil {
				return rerr
			}
			// Lost to a concurrent settle or release; nothing to emit.
			if !won {
				return nil
			}
			released++
			if s.events == nil {
				return nil
			}
			return s.events.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationExpired,
				AggregateType: enums.AggregateItem,
				AggregateID:   item.ID,
				Data: payloads.ReservationReleasedEvent{
					SessionID:  sessionID,
					ItemIDs:    []uuid.UUID{item.ID},
					ReleasedAt: now,
					Reason:     "expired",
				},
			})
		})
		if err != nil {
			if s.logg != nil {
				s.logg.Error(ctx, "release expired reservation", err)
			}
			continue
		}
	}
	return released, nil
}

// rollbackHolds undoes a failed lot attempt. The release is scoped to the
// session: an item whose hold expired mid-attempt may already belong to
// another session, and an unconditional release would drop that hold too.
func (s *Service) rollbackHolds(ctx context.Context, sessionID string) {
	// The request may be cancelled or panicking; the rollback still has
	// to reach the database.
	releaseCtx := context.WithoutCancel(ctx)
	if _, rerr := s.repo.ReleaseBySession(releaseCtx, sessionID); rerr != nil && s.logg != nil {
		logCtx := s.logg.WithFields(releaseCtx, map[string]any{"session_id": sessionID})
		s.logg.Error(logCtx, "rollback reservation holds", rerr)
	}
}

func reservedItemIDs(ctx context.Context, tx *gorm.DB, sessionID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := tx.WithContext(ctx).
		Model(&models.Item{}).
		Where("reservation_session_id = ? AND status = ?", sessionID, enums.ItemStatusReserved).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
