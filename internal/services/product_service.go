package services

import (
	"context"

	"shopcore/internal/apperrors"
	"shopcore/internal/models"
	"shopcore/internal/repositories"

	"github.com/rs/zerolog/log"
)

// ProductService handles business logic related to products.
type ProductService struct {
	repo   repositories.ProductRepository
	ledger *StockLedger
}

// NewProductService creates a new ProductService.
func NewProductService(repo repositories.ProductRepository, ledger *StockLedger) *ProductService {
	return &ProductService{
		repo:   repo,
		ledger: ledger,
	}
}

// GetAllProducts retrieves all products.
func (s *ProductService) GetAllProducts(ctx context.Context) ([]models.Product, error) {
	return s.repo.GetAll(ctx)
}

// SearchProducts returns the products matching filter.
func (s *ProductService) SearchProducts(ctx context.Context, filter repositories.ProductFilter) ([]models.Product, error) {
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return nil, apperrors.Validation("min_price cannot exceed max_price")
	}
	return s.repo.Search(ctx, filter)
}

// GetProductByID retrieves a single product by its ID.
func (s *ProductService) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateProduct creates a new product with its initial stock.
func (s *ProductService) CreateProduct(ctx context.Context, product *models.Product) error {
	if err := s.repo.Create(ctx, product); err != nil {
		return err
	}
	log.Info().Str("product_id", product.ID).Str("name", product.Name).Int("stock", product.Stock).Msg("product created")
	return nil
}

// UpdateProduct updates the catalog fields of an existing product. Stock is
// changed through SetStock only.
func (s *ProductService) UpdateProduct(ctx context.Context, product *models.Product) error {
	if err := s.repo.Update(ctx, product); err != nil {
		return err
	}
	log.Info().Str("product_id", product.ID).Msg("product updated")
	return nil
}

// DeleteProduct deletes a product by its ID.
func (s *ProductService) DeleteProduct(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	log.Info().Str("product_id", id).Msg("product deleted")
	return nil
}

// SetStock overwrites the available quantity of a product and returns it.
func (s *ProductService) SetStock(ctx context.Context, id string, qty int) (*models.Product, error) {
	if err := s.ledger.SetStock(ctx, id, qty); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}
