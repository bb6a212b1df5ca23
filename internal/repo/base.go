package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is the handle domain repositories embed. Transactions are passed
// explicitly via each repository's WithTx, not smuggled through context.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB binds the request context onto the connection so statement
// cancellation follows the caller.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}
