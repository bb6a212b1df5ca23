package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardmint/cardmint-backend/internal/repo"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// LabelResult is everything a completed label purchase writes onto the
// record in one statement, together with clearing the lock.
type LabelResult struct {
	Carrier        string
	TrackingNumber string
	LabelURL       string
	LabelCostCents int64
}

// Repository persists fulfillment records for both channels. The label
// purchase lease is acquired and released through conditional updates;
// rows-affected is the only win signal.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateIfAbsent(ctx context.Context, record *models.FulfillmentRecord) (*models.FulfillmentRecord, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentRecord, error)
	FindByProviderSessionID(ctx context.Context, sessionID string) (*models.FulfillmentRecord, error)
	FindBySquareOrderID(ctx context.Context, squareOrderID string) (*models.FulfillmentRecord, error)
	List(ctx context.Context, status *enums.FulfillmentStatus, limit, offset int) ([]models.FulfillmentRecord, error)

	TryAcquireLabelLock(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (bool, error)
	ReleaseLabelLock(ctx context.Context, id uuid.UUID) error
	CompleteLabelPurchase(ctx context.Context, id uuid.UUID, result LabelResult, now time.Time) (bool, error)
	FindStaleLocks(ctx context.Context, staleBefore time.Time, limit int) ([]models.FulfillmentRecord, error)

	SetManualReview(ctx context.Context, id uuid.UUID, required bool) error
	MarkReviewed(ctx context.Context, id uuid.UUID, operatorID uuid.UUID, note *string, at time.Time) (bool, error)
	CreateReviewAudit(ctx context.Context, audit *models.ReviewAudit) error
	MarkShipped(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	CountByStatus(ctx context.Context) (map[enums.FulfillmentStatus]int64, error)
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

// CreateIfAbsent inserts the record unless its channel key already exists.
// The second return is false when a prior record was found and returned
// instead.
func (r *repository) CreateIfAbsent(ctx context.Context, record *models.FulfillmentRecord) (*models.FulfillmentRecord, bool, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	var conflictColumn string
	switch {
	case record.ProviderSessionID != nil:
		conflictColumn = "provider_session_id"
	case record.SquareOrderID != nil:
		conflictColumn = "square_order_id"
	default:
		return nil, false, gorm.ErrInvalidData
	}

	res := r.base.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: conflictColumn}},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return record, true, nil
	}

	var existing *models.FulfillmentRecord
	var err error
	if record.ProviderSessionID != nil {
		existing, err = r.FindByProviderSessionID(ctx, *record.ProviderSessionID)
	} else {
		existing, err = r.FindBySquareOrderID(ctx, *record.SquareOrderID)
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentRecord, error) {
	var record models.FulfillmentRecord
	if err := r.base.DB(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByProviderSessionID(ctx context.Context, sessionID string) (*models.FulfillmentRecord, error) {
	var record models.FulfillmentRecord
	if err := r.base.DB(ctx).First(&record, "provider_session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindBySquareOrderID(ctx context.Context, squareOrderID string) (*models.FulfillmentRecord, error) {
	var record models.FulfillmentRecord
	if err := r.base.DB(ctx).First(&record, "square_order_id = ?", squareOrderID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) List(ctx context.Context, status *enums.FulfillmentStatus, limit, offset int) ([]models.FulfillmentRecord, error) {
	q := r.base.DB(ctx).Model(&models.FulfillmentRecord{}).Order("created_at DESC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []models.FulfillmentRecord
	err := q.Find(&rows).Error
	return rows, err
}

// TryAcquireLabelLock takes the label purchase lease. It wins when no
// purchase is in flight, or when the holder's lease is older than
// staleBefore (a crashed holder), and never when a tracking number is
// already recorded.
func (r *repository) TryAcquireLabelLock(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.FulfillmentRecord{}).
		Where("id = ? AND tracking_number IS NULL", id).
		Where("(label_purchase_in_progress = ? OR label_purchase_locked_at IS NULL OR label_purchase_locked_at < ?)", false, staleBefore).
		Updates(map[string]any{
			"label_purchase_in_progress": true,
			"label_purchase_locked_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseLabelLock clears the lease without recording a label. A release
// after the purchase completed is a no-op because completion already
// cleared the flag.
func (r *repository) ReleaseLabelLock(ctx context.Context, id uuid.UUID) error {
	return r.base.DB(ctx).Model(&models.FulfillmentRecord{}).
		Where("id = ? AND label_purchase_in_progress = ?", id, true).
		Updates(map[string]any{
			"label_purchase_in_progress": false,
			"label_purchase_locked_at":   nil,
		}).Error
}

// CompleteLabelPurchase writes the label fields, advances the status, and
// clears the lease in a single statement.
func (r *repository) CompleteLabelPurchase(ctx context.Context, id uuid.UUID, result LabelResult, now time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.FulfillmentRecord{}).
		Where("id = ? AND label_purchase_in_progress = ? AND tracking_number IS NULL", id, true).
		Updates(map[string]any{
			"carrier":                    result.Carrier,
			"tracking_number":            result.TrackingNumber,
			"label_url":                  result.LabelURL,
			"label_cost_cents":           result.LabelCostCents,
			"status":                     enums.FulfillmentStatusLabelPurchased,
			"label_purchase_in_progress": false,
			"label_purchase_locked_at":   nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindStaleLocks(ctx context.Context, staleBefore time.Time, limit int) ([]models.FulfillmentRecord, error) {
	q := r.base.DB(ctx).
		Where("label_purchase_in_progress = ? AND label_purchase_locked_at < ?", true, staleBefore).
		Order("label_purchase_locked_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.FulfillmentRecord
	err := q.Find(&rows).Error
	return rows, err
}

func (r *repository) SetManualReview(ctx context.Context, id uuid.UUID, required bool) error {
	return r.base.DB(ctx).Model(&models.FulfillmentRecord{}).
		Where("id = ?", id).
		Update("requires_manual_review", required).Error
}

// MarkReviewed clears the review gate. Only an unreviewed record is
// updated, so double submits resolve to one reviewer.
func (r *repository) MarkReviewed(ctx context.Context, id uuid.UUID, operatorID uuid.UUID, note *string, at time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.FulfillmentRecord{}).
		Where("id = ? AND reviewed_at IS NULL", id).
		Updates(map[string]any{
			"requires_manual_review": false,
			"reviewed_by":            operatorID,
			"reviewed_at":            at,
			"review_note":            note,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CreateReviewAudit(ctx context.Context, audit *models.ReviewAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	return r.base.DB(ctx).Create(audit).Error
}

func (r *repository) MarkShipped(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.FulfillmentRecord{}).
		Where("id = ? AND shipped_at IS NULL AND tracking_number IS NOT NULL", id).
		Updates(map[string]any{
			"status":     enums.FulfillmentStatusShipped,
			"shipped_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) CountByStatus(ctx context.Context) (map[enums.FulfillmentStatus]int64, error) {
	type row struct {
		Status enums.FulfillmentStatus
		Count  int64
	}
	var rows []row
	err := r.base.DB(ctx).Model(&models.FulfillmentRecord{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.FulfillmentStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
