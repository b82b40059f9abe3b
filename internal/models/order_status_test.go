package models_test

import (
	"testing"

	"shopcore/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	legal := map[models.OrderStatus][]models.OrderStatus{
		models.StatusPending:    {models.StatusProcessing, models.StatusCancelled},
		models.StatusProcessing: {models.StatusShipped, models.StatusCancelled},
		models.StatusShipped:    {models.StatusDelivered},
	}

	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			expected := false
			for _, allowed := range legal[from] {
				if allowed == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, models.StatusDelivered.IsTerminal())
	assert.True(t, models.StatusCancelled.IsTerminal())
	assert.False(t, models.StatusPending.IsTerminal())
	assert.False(t, models.StatusShipped.IsTerminal())
	assert.False(t, models.OrderStatus("lost").IsTerminal())
	assert.False(t, models.OrderStatus("lost").Valid())
	assert.False(t, models.OrderStatus("lost").CanTransitionTo(models.StatusPending))
}

func TestOrderStatusEditable(t *testing.T) {
	assert.True(t, models.StatusPending.Editable())
	for _, s := range []models.OrderStatus{models.StatusProcessing, models.StatusShipped, models.StatusDelivered, models.StatusCancelled} {
		assert.False(t, s.Editable(), s)
	}
}

func TestOrderItemLookup(t *testing.T) {
	order := models.Order{Items: []models.OrderItem{
		{ProductID: "p1", Line: 1, Quantity: 2, UnitPrice: decimal.NewFromInt(10)},
		{ProductID: "p2", Line: 3, Quantity: 1, UnitPrice: decimal.NewFromInt(5)},
	}}

	item := order.ItemForProduct("p2")
	if assert.NotNil(t, item) {
		item.Quantity = 4
	}
	assert.Equal(t, 4, order.Items[1].Quantity)
	assert.Nil(t, order.ItemForProduct("p9"))
	assert.Equal(t, 4, order.NextLine())
	assert.Equal(t, 1, (&models.Order{}).NextLine())
}
