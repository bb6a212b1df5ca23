package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// EmailTask is a queued transactional email. DedupeKey makes enqueueing
// idempotent so webhook retries never produce duplicate sends.
type EmailTask struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Kind      enums.EmailTaskKind `gorm:"column:kind;type:text;not null"`
	DedupeKey string              `gorm:"column:dedupe_key;not null;uniqueIndex:ux_email_tasks_dedupe_key"`

	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid"`
	Recipient string     `gorm:"column:recipient;not null"`

	Status  enums.EmailTaskStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Payload json.RawMessage       `gorm:"column:payload;type:jsonb"`

	SentAt    *time.Time `gorm:"column:sent_at"`
	LastError *string    `gorm:"column:last_error"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
