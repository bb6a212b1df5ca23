package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// WebhookEvent is the durable dedup ledger for provider webhooks. The
// (provider, provider_event_id) pair is unique; a replay of a processed
// event short-circuits with the stored outcome.
type WebhookEvent struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Provider        string    `gorm:"column:provider;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1"`
	ProviderEventID string    `gorm:"column:provider_event_id;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2"`
	EventType       string    `gorm:"column:event_type;not null"`

	Status   enums.WebhookEventStatus `gorm:"column:status;type:text;not null;default:'received'"`
	Payload  json.RawMessage          `gorm:"column:payload;type:jsonb;not null"`
	Attempts int                      `gorm:"column:attempts;not null;default:0"`

	// Resolved references stored when the event is marked processed, so a
	// replay can answer with the original outcome.
	SessionID *string    `gorm:"column:session_id"`
	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid"`

	LastError   *string    `gorm:"column:last_error"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
