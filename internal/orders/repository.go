package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/internal/repo"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// Repository persists orders and their per-day numbering state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByProviderSessionID(ctx context.Context, sessionID string) (*models.Order, error)
	FindByProviderPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	MaxDaySeq(ctx context.Context, dayPrefix string) (int, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, limit, offset int) ([]models.Order, error)
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

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
	}
	return r.base.DB(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.base.DB(ctx).Preload("Items").First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProviderSessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := r.base.DB(ctx).Preload("Items").
		First(&order, "provider_session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByProviderPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	var order models.Order
	err := r.base.DB(ctx).Preload("Items").
		First(&order, "provider_payment_id = ?", paymentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MaxDaySeq returns the highest sequence already assigned for the day,
// zero when the day has no orders yet. The read is not locked; the unique
// index on (day_prefix, day_seq) is what makes concurrent allocations safe.
func (r *repository) MaxDaySeq(ctx context.Context, dayPrefix string) (int, error) {
	var max *int
	err := r.base.DB(ctx).Model(&models.Order{}).
		Where("day_prefix = ?", dayPrefix).
		Select("MAX(day_seq)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.Order{}).
		Where("id = ? AND status <> ?", id, enums.OrderStatusRefunded).
		Updates(map[string]any{
			"status":      enums.OrderStatusRefunded,
			"refunded_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, limit, offset int) ([]models.Order, error) {
	var rows []models.Order
	q := r.base.DB(ctx).Preload("Items").Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&rows).Error
	return rows, err
}
