package email

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

// Repository queues transactional emails. DedupeKey is unique, so
// enqueueing the same task twice is a silent no-op.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnqueueIfAbsent(ctx context.Context, task *models.EmailTask) (bool, error)
	FindPending(ctx context.Context, limit int) ([]models.EmailTask, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RecordFailure(ctx context.Context, id uuid.UUID, message string) error
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

func (r *repository) EnqueueIfAbsent(ctx context.Context, task *models.EmailTask) (bool, error) {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = enums.EmailTaskStatusPending
	}
	res := r.base.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedupe_key"}},
		DoNothing: true,
	}).Create(task)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindPending(ctx context.Context, limit int) ([]models.EmailTask, error) {
	q := r.base.DB(ctx).
		Where("status = ?", enums.EmailTaskStatusPending).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.EmailTask
	err := q.Find(&rows).Error
	return rows, err
}

func (r *repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.EmailTask{}).
		Where("id = ? AND status = ?", id, enums.EmailTaskStatusPending).
		Updates(map[string]any{
			"status":  enums.EmailTaskStatusSent,
			"sent_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) RecordFailure(ctx context.Context, id uuid.UUID, message string) error {
	return r.base.DB(ctx).Model(&models.EmailTask{}).
		Where("id = ?", id).
		Update("last_error", message).Error
}

// OrderConfirmationPayload is stored on the task for the mailer to render.
type OrderConfirmationPayload struct {
	OrderNumber string `json:"order_number"`
	TotalCents  int64  `json:"total_cents"`
}

// BuildOrderConfirmation creates the confirmation task for one settled
// session. The dedupe key ties the task to the session, not the order,
// so webhook retries that re-materialize never enqueue twice.
func BuildOrderConfirmation(sessionID string, orderID uuid.UUID, recipient, orderNumber string, totalCents int64) (*models.EmailTask, error) {
	payload, err := json.Marshal(OrderConfirmationPayload{OrderNumber: orderNumber, TotalCents: totalCents})
	if err != nil {
		return nil, err
	}
	oid := orderID
	return &models.EmailTask{
		Kind:      enums.EmailTaskKindOrderConfirmation,
		DedupeKey: sessionID + ":" + string(enums.EmailTaskKindOrderConfirmation),
		OrderID:   &oid,
		Recipient: recipient,
		Status:    enums.EmailTaskStatusPending,
		Payload:   payload,
	}, nil
}
