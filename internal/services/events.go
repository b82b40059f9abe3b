package services

import (
	"encoding/json"
	"time"

	"shopcore/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Routing keys of the order events.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderItemsUpdated  = "order.items_updated"
)

// EventPublisher delivers an encoded event under a routing key.
type EventPublisher interface {
	Publish(routingKey string, body []byte) error
}

// OrderEventItem is one order line as carried in events.
type OrderEventItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderCreatedEvent is published once a new order has been committed.
type OrderCreatedEvent struct {
	OrderID    string             `json:"order_id"`
	Number     string             `json:"number"`
	UserID     string             `json:"user_id"`
	Status     models.OrderStatus `json:"status"`
	Total      decimal.Decimal    `json:"total"`
	Items      []OrderEventItem   `json:"items"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// OrderStatusChangedEvent is published after every committed status transition.
type OrderStatusChangedEvent struct {
	OrderID    string             `json:"order_id"`
	From       models.OrderStatus `json:"from"`
	To         models.OrderStatus `json:"to"`
	ActorID    string             `json:"actor_id"`
	ActorRole  models.Role        `json:"actor_role"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// OrderItemsUpdatedEvent is published after the lines of a pending order change.
type OrderItemsUpdatedEvent struct {
	OrderID    string          `json:"order_id"`
	ItemCount  int             `json:"item_count"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Total      decimal.Decimal `json:"total"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func newOrderCreatedEvent(order *models.Order, at time.Time) OrderCreatedEvent {
	items := make([]OrderEventItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderEventItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return OrderCreatedEvent{
		OrderID:    order.ID,
		Number:     order.Number,
		UserID:     order.UserID,
		Status:     order.Status,
		Total:      order.Total,
		Items:      items,
		OccurredAt: at,
	}
}

// publishEvent never fails the caller: the order change is already committed.
func publishEvent(publisher EventPublisher, routingKey, orderID string, payload any) {
	if publisher == nil {
		log.Debug().Str("event", routingKey).Msg("no event publisher configured, skipping")
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", routingKey).Str("order_id", orderID).Msg("failed to encode order event")
		return
	}
	if err := publisher.Publish(routingKey, body); err != nil {
		log.Warn().Err(err).Str("event", routingKey).Str("order_id", orderID).Msg("failed to publish order event")
		return
	}
	log.Debug().Str("event", routingKey).Str("order_id", orderID).Msg("order event published")
}
