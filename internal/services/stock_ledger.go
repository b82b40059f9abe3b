package services

import (
	"context"

	"shopcore/internal/apperrors"
	"shopcore/internal/repositories"
	"shopcore/pkg/metrics"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// StockLedger moves available product quantities. Reserve and Release run
// inside the caller's transaction so they commit or roll back together with
// the order change that caused them.
type StockLedger struct {
	products repositories.ProductRepository
	metrics  *metrics.Metrics
}

// NewStockLedger creates a ledger over the product repository. m may be nil.
func NewStockLedger(products repositories.ProductRepository, m *metrics.Metrics) *StockLedger {
	return &StockLedger{products: products, metrics: m}
}

// Reserve takes qty units of a product, failing with InsufficientStock when
// fewer are available.
func (l *StockLedger) Reserve(ctx context.Context, tx *gorm.DB, productID string, qty int) error {
	err := l.products.WithTx(tx).DecrementStock(ctx, productID, qty)
	if err != nil {
		if apperrors.Is(err, apperrors.KindInsufficientStock) {
			l.metrics.StockRejected()
			log.Warn().Str("product_id", productID).Int("quantity", qty).Msg("stock reservation rejected")
		}
		return err
	}
	log.Debug().Str("product_id", productID).Int("quantity", qty).Msg("stock reserved")
	return nil
}

// Release returns qty previously reserved units. Callers guarantee it runs
// once per reservation.
func (l *StockLedger) Release(ctx context.Context, tx *gorm.DB, productID string, qty int) error {
	if err := l.products.WithTx(tx).IncrementStock(ctx, productID, qty); err != nil {
		return err
	}
	log.Debug().Str("product_id", productID).Int("quantity", qty).Msg("stock released")
	return nil
}

// SetStock overwrites the available quantity. Reservations held by open
// orders are not adjusted.
func (l *StockLedger) SetStock(ctx context.Context, productID string, qty int) error {
	if err := l.products.SetStock(ctx, productID, qty); err != nil {
		return err
	}
	log.Info().Str("product_id", productID).Int("stock", qty).Msg("stock overwritten")
	return nil
}
