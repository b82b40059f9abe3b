package repositories

import (
	"context"

	"gorm.io/gorm"
)

// TxManager runs a function inside a single database transaction. Returning an
// error from fn rolls back every write made through tx.
type TxManager interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// GORMTxManager is the gorm implementation of TxManager.
type GORMTxManager struct {
	db *gorm.DB
}

// NewGORMTxManager creates a new instance of GORMTxManager.
func NewGORMTxManager(db *gorm.DB) *GORMTxManager {
	return &GORMTxManager{db: db}
}

// WithTx runs fn in a transaction bound to ctx.
func (m *GORMTxManager) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.db.WithContext(ctx).Transaction(fn)
}
