package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

// FulfillmentRecord tracks shipping for one shipment, either a direct
// checkout order (keyed by ProviderSessionID) or a marketplace import
// (keyed by SquareOrderID). Exactly one of the two keys is set.
//
// The label purchase lock lives on the row: LabelPurchaseInProgress plus
// LabelPurchaseLockedAt form a lease that serializes the external label
// purchase. TrackingNumber and LabelURL are written together in the same
// transaction that clears the lock, never partially.
type FulfillmentRecord struct {
	ID      uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Channel enums.ShipmentType `gorm:"column:channel;type:text;not null"`

	ProviderSessionID *string    `gorm:"column:provider_session_id;uniqueIndex:ux_fulfillment_records_session"`
	SquareOrderID     *string    `gorm:"column:square_order_id;uniqueIndex:ux_fulfillment_records_square_order"`
	OrderID           *uuid.UUID `gorm:"column:order_id;type:uuid"`

	Status enums.FulfillmentStatus `gorm:"column:status;type:text;not null;default:'pending';index:ix_fulfillment_records_status"`

	RecipientEmail  *string        `gorm:"column:recipient_email"`
	ShippingAddress *types.Address `gorm:"column:shipping_address;type:jsonb;serializer:json"`

	Carrier        *string `gorm:"column:carrier"`
	TrackingNumber *string `gorm:"column:tracking_number"`
	LabelURL       *string `gorm:"column:label_url"`
	LabelCostCents *int64  `gorm:"column:label_cost_cents"`

	LabelPurchaseInProgress bool       `gorm:"column:label_purchase_in_progress;not null;default:false"`
	LabelPurchaseLockedAt   *time.Time `gorm:"column:label_purchase_locked_at"`

	RequiresManualReview bool       `gorm:"column:requires_manual_review;not null;default:false"`
	ReviewedBy           *uuid.UUID `gorm:"column:reviewed_by;type:uuid"`
	ReviewedAt           *time.Time `gorm:"column:reviewed_at"`
	ReviewNote           *string    `gorm:"column:review_note"`

	ShippedAt  *time.Time `gorm:"column:shipped_at"`
	ImportedAt *time.Time `gorm:"column:imported_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// ReviewAudit records a manual review override: who bypassed the review
// gate on a fulfillment record and why.
type ReviewAudit struct {
	ID                  uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	FulfillmentRecordID uuid.UUID  `gorm:"column:fulfillment_record_id;type:uuid;not null;index:ix_review_audits_record"`
	OperatorID          *uuid.UUID `gorm:"column:operator_id;type:uuid"`
	Reason              string     `gorm:"column:reason;not null"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
}
