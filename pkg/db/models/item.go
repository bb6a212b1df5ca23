package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// Item is a single physical collectible listed for sale. Every item is
// unique, so the hold state machine lives directly on the row. Only the
// reservation ledger mutates Status.
type Item struct {
	ID          uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	SKU         string         `gorm:"column:sku;not null;uniqueIndex:ux_items_sku"`
	Title       string         `gorm:"column:title;not null"`
	Description *string        `gorm:"column:description"`
	Grade       *string        `gorm:"column:grade"`
	PriceCents  int64          `gorm:"column:price_cents;not null"`
	Currency    enums.Currency `gorm:"column:currency;type:text;not null;default:'USD'"`

	Status enums.ItemStatus `gorm:"column:status;type:text;not null;default:'in_stock';index:ix_items_status"`

	// ReservationSessionID and ReservationExpiresAt are set together while
	// Status is reserved; the expiry sweep releases holds past expiry.
	ReservationSessionID *string    `gorm:"column:reservation_session_id"`
	ReservationExpiresAt *time.Time `gorm:"column:reservation_expires_at"`

	// ChargeReference is the provider payment reference recorded when the
	// item transitions to sold; refunds map back to items through it.
	ChargeReference *string `gorm:"column:charge_reference;index:ix_items_charge_reference"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
