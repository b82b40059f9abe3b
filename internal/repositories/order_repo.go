package repositories

import (
	"context"

	"shopcore/internal/models"

	"gorm.io/gorm"
)

// OrderFilter narrows order listings. An empty UserID lists every customer.
type OrderFilter struct {
	UserID string
	Status models.OrderStatus
	Limit  int
	Offset int
}

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	List(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	// GetForUpdate loads the order and holds its row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error
	Save(ctx context.Context, order *models.Order) error

	SaveItem(ctx context.Context, item *models.OrderItem) error
	DeleteItem(ctx context.Context, itemID string) error

	AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	History(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error)

	Totals(ctx context.Context) ([]models.StatusTotals, error)

	WithTx(tx *gorm.DB) OrderRepository
}
