package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// PrintQueueJob is one shipping label waiting to be printed by a desktop
// agent. The (shipment_type, shipment_id) pair is unique so re-purchasing
// a label re-queues the existing job instead of duplicating it.
//
// LastAttemptAt is refreshed on every claim; the stuck-job sweep uses it
// to return abandoned downloading/printing rows to a claimable state.
type PrintQueueJob struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ShipmentType enums.ShipmentType `gorm:"column:shipment_type;type:text;not null;uniqueIndex:ux_print_queue_jobs_shipment,priority:1"`
	ShipmentID   uuid.UUID          `gorm:"column:shipment_id;type:uuid;not null;uniqueIndex:ux_print_queue_jobs_shipment,priority:2"`

	Status       enums.PrintJobStatus       `gorm:"column:status;type:text;not null;default:'pending';index:ix_print_queue_jobs_status"`
	ReviewStatus enums.PrintJobReviewStatus `gorm:"column:review_status;type:text;not null;default:'needs_review'"`

	LabelURL       string  `gorm:"column:label_url;not null"`
	LabelLocalPath *string `gorm:"column:label_local_path"`

	ClaimedBy     *string    `gorm:"column:claimed_by"`
	LastAttemptAt *time.Time `gorm:"column:last_attempt_at"`

	Attempts     int     `gorm:"column:attempts;not null;default:0"`
	PrintCount   int     `gorm:"column:print_count;not null;default:0"`
	ErrorMessage *string `gorm:"column:error_message"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// PrintAgent is a registered desktop print agent. Authentication uses an
// argon2id hash of the agent token; LastSeenAt is refreshed by heartbeats.
type PrintAgent struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Name       string     `gorm:"column:name;not null;uniqueIndex:ux_print_agents_name"`
	TokenHash  string     `gorm:"column:token_hash;not null"`
	Hostname   *string    `gorm:"column:hostname"`
	Version    *string    `gorm:"column:version"`
	LastSeenAt *time.Time `gorm:"column:last_seen_at"`
	Disabled   bool       `gorm:"column:disabled;not null;default:false"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
