package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardmint/cardmint-backend/internal/repo"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
)

const providerStripe = "stripe"

// Repository is the durable webhook dedup ledger. One row per provider
// event; replays find the prior row and answer with its stored outcome.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIfAbsent(ctx context.Context, eventID, eventType string, payload json.RawMessage) (*models.WebhookEvent, bool, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	MarkProcessed(ctx context.Context, id uuid.UUID, sessionID *string, orderID *uuid.UUID, at time.Time) error
	MarkSkipped(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordError(ctx context.Context, id uuid.UUID, message string) error
}

type repository struct {
	base repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: repo.NewBase(tx)}
}

// InsertIfAbsent records the event on first delivery. The second return
// is false when the event was seen before; the caller inspects the
// returned row's status to decide between replaying the outcome and
// resuming interrupted work.
func (r *repository) InsertIfAbsent(ctx context.Context, eventID, eventType string, payload json.RawMessage) (*models.WebhookEvent, bool, error) {
	row := models.WebhookEvent{
		ID:              uuid.New(),
		Provider:        providerStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		Status:          enums.WebhookEventStatusReceived,
		Payload:         payload,
		Attempts:        1,
	}
	res := r.base.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return &row, true, nil
	}

	var existing models.WebhookEvent
	err := r.base.DB(ctx).
		First(&existing, "provider = ? AND provider_event_id = ?", providerStripe, eventID).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *repository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	return r.base.DB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, sessionID *string, orderID *uuid.UUID, at time.Time) error {
	return r.base.DB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.WebhookEventStatusProcessed,
			"session_id":   sessionID,
			"order_id":     orderID,
			"processed_at": at,
			"last_error":   nil,
		}).Error
}

func (r *repository) MarkSkipped(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.base.DB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.WebhookEventStatusSkipped,
			"processed_at": at,
		}).Error
}

func (r *repository) RecordError(ctx context.Context, id uuid.UUID, message string) error {
	return r.base.DB(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("last_error", message).Error
}
