package services

import (
	"shopcore/internal/models"

	"github.com/shopspring/decimal"
)

// Recompute drops lines with no quantity, refreshes every line total from its
// price snapshot and sets subtotal and total. No fees apply, so total always
// equals subtotal.
func Recompute(order *models.Order) {
	kept := make([]models.OrderItem, 0, len(order.Items))
	subtotal := decimal.Zero
	for _, item := range order.Items {
		if item.Quantity <= 0 {
			continue
		}
		item.LineTotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(item.LineTotal)
		kept = append(kept, item)
	}
	order.Items = kept
	order.Subtotal = subtotal
	order.Total = subtotal
}
