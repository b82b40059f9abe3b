package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderItem is one product line within an order. UnitPrice and ProductName are
// captured when the line is created and never follow later catalog changes.
type OrderItem struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	OrderID     string          `json:"order_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_order_items_order_product,priority:1"`
	Line        int             `json:"line" gorm:"not null"`
	ProductID   string          `json:"product_id" gorm:"type:varchar(36);not null;uniqueIndex:idx_order_items_order_product,priority:2"`
	ProductName string          `json:"product_name" gorm:"type:varchar(100)"`
	Quantity    int             `json:"quantity" gorm:"not null;check:quantity > 0"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2);not null"`
	LineTotal   decimal.Decimal `json:"line_total" gorm:"type:numeric(12,2);not null"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ShippingDetails is where an order is delivered. All fields are optional.
type ShippingDetails struct {
	Address    string `json:"shipping_address" gorm:"column:shipping_address;type:text"`
	City       string `json:"shipping_city" gorm:"column:shipping_city;type:varchar(100)"`
	PostalCode string `json:"shipping_postal_code" gorm:"column:shipping_postal_code;type:varchar(20)"`
	Phone      string `json:"shipping_phone" gorm:"column:shipping_phone;type:varchar(20)"`
}

// Order represents a customer order.
type Order struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Number      string          `json:"number" gorm:"uniqueIndex;type:varchar(32);not null"`
	UserID      string          `json:"user_id" gorm:"type:varchar(36);not null;index:idx_orders_user_status,priority:1"`
	Status      OrderStatus     `json:"status" gorm:"type:varchar(20);not null;index;index:idx_orders_user_status,priority:2"`
	Subtotal    decimal.Decimal `json:"subtotal" gorm:"type:numeric(12,2);not null"`
	Total       decimal.Decimal `json:"total" gorm:"type:numeric(12,2);not null"`
	Items       []OrderItem     `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	ShippingDetails `gorm:"embedded"`

	Notes       string     `json:"notes" gorm:"type:text"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ItemForProduct returns the line holding productID, or nil.
func (o *Order) ItemForProduct(productID string) *OrderItem {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i]
		}
	}
	return nil
}

// NextLine returns the line number for an item appended to the order.
func (o *Order) NextLine() int {
	next := 1
	for _, item := range o.Items {
		if item.Line >= next {
			next = item.Line + 1
		}
	}
	return next
}

// OrderStatusHistory is one append-only audit entry per status change. An
// empty FromStatus marks the creation entry.
type OrderStatusHistory struct {
	ID         uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID    string      `json:"order_id" gorm:"type:varchar(36);not null;index"`
	FromStatus OrderStatus `json:"from_status" gorm:"type:varchar(20)"`
	ToStatus   OrderStatus `json:"to_status" gorm:"type:varchar(20);not null"`
	ActorID    string      `json:"actor_id" gorm:"type:varchar(36)"`
	ActorRole  Role        `json:"actor_role" gorm:"type:varchar(20)"`
	Notes      string      `json:"notes,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (OrderStatusHistory) TableName() string { return "order_status_history" }

// StatusTotals aggregates orders sharing a status.
type StatusTotals struct {
	Status OrderStatus     `json:"status"`
	Count  int64           `json:"count"`
	Total  decimal.Decimal `json:"total"`
}

// OrderSummary is the admin projection over all orders.
type OrderSummary struct {
	TotalOrders       int64                        `json:"total_orders"`
	ByStatus          map[OrderStatus]StatusTotals `json:"by_status"`
	Revenue           decimal.Decimal              `json:"revenue"`
	AverageOrderValue decimal.Decimal              `json:"average_order_value"`
}
