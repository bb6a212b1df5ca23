package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// Operator is a back-office user of the fulfillment dashboard.
type Operator struct {
	ID           uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Email        string             `gorm:"column:email;not null;uniqueIndex:ux_operators_email"`
	PasswordHash string             `gorm:"column:password_hash;not null"`
	Role         enums.OperatorRole `gorm:"column:role;type:text;not null;default:'ops'"`
	LastLoginAt  *time.Time         `gorm:"column:last_login_at"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
