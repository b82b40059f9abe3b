package repositories

import (
	"context"

	"shopcore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductFilter narrows Search. Zero values leave a criterion unset.
type ProductFilter struct {
	// Query matches name, description or SKU, case-insensitively.
	Query    string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	// InStock keeps products with stock left when true, sold out ones when false.
	InStock *bool
}

// ProductRepository defines the interface for product data access.
type ProductRepository interface {
	GetAll(ctx context.Context) ([]models.Product, error)
	Search(ctx context.Context, filter ProductFilter) ([]models.Product, error)
	GetByID(ctx context.Context, id string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, product *models.Product) error
	Delete(ctx context.Context, id string) error

	// DecrementStock removes qty units only if at least qty are available.
	DecrementStock(ctx context.Context, id string, qty int) error
	IncrementStock(ctx context.Context, id string, qty int) error
	SetStock(ctx context.Context, id string, qty int) error

	// WithTx returns a repository whose statements run inside tx.
	WithTx(tx *gorm.DB) ProductRepository
}
