package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

// Order is materialized exactly once per settled checkout session.
// ProviderSessionID carries the uniqueness guarantee; OrderNumber is a
// human-facing per-day sequence assigned at creation.
type Order struct {
	ID uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`

	OrderNumber string `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	DayPrefix   string `gorm:"column:day_prefix;not null;uniqueIndex:ux_orders_day_seq,priority:1"`
	DaySeq      int    `gorm:"column:day_seq;not null;uniqueIndex:ux_orders_day_seq,priority:2"`

	ProviderSessionID string  `gorm:"column:provider_session_id;not null;uniqueIndex:ux_orders_provider_session"`
	ProviderPaymentID *string `gorm:"column:provider_payment_id;index:ix_orders_provider_payment"`

	CustomerEmail   string         `gorm:"column:customer_email;not null"`
	TotalCents      int64          `gorm:"column:total_cents;not null"`
	Currency        enums.Currency `gorm:"column:currency;type:text;not null;default:'USD'"`
	ShippingAddress *types.Address `gorm:"column:shipping_address;type:jsonb;serializer:json"`

	Status     enums.OrderStatus `gorm:"column:status;type:text;not null;default:'confirmed'"`
	RefundedAt *time.Time        `gorm:"column:refunded_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem snapshots one sold item at purchase time.
type OrderItem struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null;index:ix_order_items_order"`
	ItemID     uuid.UUID `gorm:"column:item_id;type:uuid;not null;uniqueIndex:ux_order_items_item"`
	Title      string    `gorm:"column:title;not null"`
	PriceCents int64     `gorm:"column:price_cents;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
