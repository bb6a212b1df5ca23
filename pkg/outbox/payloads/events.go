package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// OrderCreatedEvent signals a checkout session was materialized into an order.
type OrderCreatedEvent struct {
	OrderID           uuid.UUID   `json:"order_id"`
	OrderNumber       string      `json:"order_number"`
	ProviderSessionID string      `json:"provider_session_id"`
	ItemIDs           []uuid.UUID `json:"item_ids"`
	TotalCents        int64       `json:"total_cents"`
}

// OrderRefundedEvent is emitted when a refund restores items to sale.
type OrderRefundedEvent struct {
	OrderID         uuid.UUID   `json:"order_id"`
	ChargeReference string      `json:"charge_reference"`
	RestoredItemIDs []uuid.UUID `json:"restored_item_ids"`
	RefundedAt      time.Time   `json:"refunded_at"`
}

// ReservationReleasedEvent reports holds dropped by session expiry or cancel.
type ReservationReleasedEvent struct {
	SessionID  string      `json:"session_id"`
	ItemIDs    []uuid.UUID `json:"item_ids"`
	ReleasedAt time.Time   `json:"released_at"`
	Reason     string      `json:"reason,omitempty"`
}

// LabelPurchasedEvent surfaces a completed label purchase on either channel.
type LabelPurchasedEvent struct {
	ShipmentType   enums.ShipmentType `json:"shipment_type"`
	ShipmentID     uuid.UUID          `json:"shipment_id"`
	TrackingNumber string             `json:"tracking_number"`
	Carrier        string             `json:"carrier,omitempty"`
	PurchasedBy    string             `json:"purchased_by"`
}

// PrintJobStateEvent carries print queue lifecycle transitions.
type PrintJobStateEvent struct {
	JobID        uuid.UUID            `json:"job_id"`
	ShipmentType enums.ShipmentType   `json:"shipment_type"`
	ShipmentID   uuid.UUID            `json:"shipment_id"`
	Status       enums.PrintJobStatus `json:"status"`
	AgentName    string               `json:"agent_name,omitempty"`
	Reason       string               `json:"reason,omitempty"`
}

// EmailTaskQueuedEvent tells the mailer worker to render and send.
type EmailTaskQueuedEvent struct {
	TaskID    uuid.UUID           `json:"task_id"`
	Kind      enums.EmailTaskKind `json:"kind"`
	Recipient string              `json:"recipient"`
	OrderID   *uuid.UUID          `json:"order_id,omitempty"`
}

// MarketplaceOrderImportedEvent reports a Square order pulled into the
// shipment table.
type MarketplaceOrderImportedEvent struct {
	ShipmentID    uuid.UUID `json:"shipment_id"`
	SquareOrderID string    `json:"square_order_id"`
	ImportedAt    time.Time `json:"imported_at"`
}
