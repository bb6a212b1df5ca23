package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/internal/repo"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// Repository owns item lifecycle state. Every transition is a single
// conditional UPDATE whose rows-affected count is the only win signal, so
// the same code is safe across concurrent handlers and process instances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, item *models.Item) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Item, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error)
	ListInStock(ctx context.Context, limit, offset int) ([]models.Item, error)
	Reserve(ctx context.Context, itemID uuid.UUID, sessionID string, expiresAt time.Time) (bool, error)
	Release(ctx context.Context, itemID uuid.UUID) (bool, error)
	ReleaseBySession(ctx context.Context, sessionID string) (int64, error)
	MarkSold(ctx context.Context, itemID uuid.UUID, chargeReference string) (bool, error)
	RestoreFromRefund(ctx context.Context, itemID uuid.UUID) (bool, error)
	FindByChargeReference(ctx context.Context, chargeReference string) ([]models.Item, error)
	FindExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Item, error)
}

type repository struct {
	base repo.Base
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, item *models.Item) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = enums.ItemStatusInStock
	}
	return r.base.DB(ctx).Create(item).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Item, error) {
	var item models.Item
	if err := r.base.DB(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []models.Item
	err := r.base.DB(ctx).
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListInStock(ctx context.Context, limit, offset int) ([]models.Item, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []models.Item
	err := r.base.DB(ctx).
		Where("status = ?", enums.ItemStatusInStock).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Reserve transitions the item to reserved only when it is in stock, or
// when the same session already holds it (promotion of a prior hold).
// A false return means another caller holds or sold the item.
func (r *repository) Reserve(ctx context.Context, itemID uuid.UUID, sessionID string, expiresAt time.Time) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.Item{}).
		Where(
			"id = ? AND (status = ? OR (status = ? AND reservation_session_id = ?))",
			itemID, enums.ItemStatusInStock, enums.ItemStatusReserved, sessionID,
		).
		Updates(map[string]any{
			"status":                 enums.ItemStatusReserved,
			"reservation_session_id": sessionID,
			"reservation_expires_at": expiresAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Release drops a hold; it no-ops when the item is not reserved.
func (r *repository) Release(ctx context.Context, itemID uuid.UUID) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.Item{}).
		Where("id = ? AND status = ?", itemID, enums.ItemStatusReserved).
		Updates(releasedColumns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseBySession drops every hold owned by the session in one statement.
func (r *repository) ReleaseBySession(ctx context.Context, sessionID string) (int64, error) {
	res := r.base.DB(ctx).
		Model(&models.Item{}).
		Where("reservation_session_id = ? AND status = ?", sessionID, enums.ItemStatusReserved).
		Updates(releasedColumns())
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// MarkSold settles the item. The condition is "not already sold" rather
// than "currently reserved" so a hold that expired before a slow webhook
// arrived still settles; a false return means a duplicate delivery
// already did the work.
func (r *repository) MarkSold(ctx context.Context, itemID uuid.UUID, chargeReference string) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.Item{}).
		Where("id = ? AND status <> ?", itemID, enums.ItemStatusSold).
		Updates(map[string]any{
			"status":                 enums.ItemStatusSold,
			"charge_reference":       chargeReference,
			"reservation_session_id": nil,
			"reservation_expires_at": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RestoreFromRefund returns a sold item to sale.
func (r *repository) RestoreFromRefund(ctx context.Context, itemID uuid.UUID) (bool, error) {
	res := r.base.DB(ctx).
		Model(&models.Item{}).
		Where("id = ? AND status = ?", itemID, enums.ItemStatusSold).
		Updates(map[string]any{
			"status":           enums.ItemStatusInStock,
			"charge_reference": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByChargeReference(ctx context.Context, chargeReference string) ([]models.Item, error) {
	var items []models.Item
	err := r.base.DB(ctx).
		Where("charge_reference = ?", chargeReference).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindExpiredReservations(ctx context.Context, now time.Time, limit int) ([]models.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []models.Item
	err := r.base.DB(ctx).
		Where("status = ? AND reservation_expires_at < ?", enums.ItemStatusReserved, now).
		Order("reservation_expires_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func releasedColumns() map[string]any {
	return map[string]any{
		"status":                 enums.ItemStatusInStock,
		"reservation_session_id": nil,
		"reservation_expires_at": nil,
	}
}
