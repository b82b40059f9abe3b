package repositories

import (
	"context"
	"errors"
	"fmt"

	"shopcore/internal/apperrors"
	"shopcore/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{
		db: db,
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *GORMOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &GORMOrderRepository{db: tx}
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("line ASC")
}

// List returns orders newest first.
func (r *GORMOrderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Preload("Items", orderedItems).Order("created_at DESC")
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var orders []models.Order
	if err := query.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetByID returns an order with its items.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	return r.first(r.db.WithContext(ctx), id)
}

// GetForUpdate returns an order with its items under a row lock.
func (r *GORMOrderRepository) GetForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *GORMOrderRepository) first(db *gorm.DB, id string) (*models.Order, error) {
	var order models.Order
	if err := db.Preload("Items", orderedItems).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("order with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get order by ID %s: %w", id, err)
	}
	return &order, nil
}

// Create inserts the order together with its items.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.New().String()
		}
		order.Items[i].OrderID = order.ID
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Save writes the order header. Items are persisted separately.
func (r *GORMOrderRepository) Save(ctx context.Context, order *models.Order) error {
	res := r.db.WithContext(ctx).Omit(clause.Associations).Save(order)
	if res.Error != nil {
		return fmt.Errorf("failed to save order %s: %w", order.ID, res.Error)
	}
	return nil
}

// SaveItem inserts or updates one order line.
func (r *GORMOrderRepository) SaveItem(ctx context.Context, item *models.OrderItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return fmt.Errorf("failed to save order item %s: %w", item.ID, err)
	}
	return nil
}

// DeleteItem removes one order line.
func (r *GORMOrderRepository) DeleteItem(ctx context.Context, itemID string) error {
	res := r.db.WithContext(ctx).Delete(&models.OrderItem{}, "id = ?", itemID)
	if res.Error != nil {
		return fmt.Errorf("failed to delete order item %s: %w", itemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("order item with ID %s not found", itemID)
	}
	return nil
}

// AppendHistory records a status change.
func (r *GORMOrderRepository) AppendHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append status history for order %s: %w", entry.OrderID, err)
	}
	return nil
}

// History returns the status changes of an order, oldest first.
func (r *GORMOrderRepository) History(ctx context.Context, orderID string) ([]models.OrderStatusHistory, error) {
	var entries []models.OrderStatusHistory
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get status history for order %s: %w", orderID, err)
	}
	return entries, nil
}

// Totals counts orders and sums their totals per status.
func (r *GORMOrderRepository) Totals(ctx context.Context) ([]models.StatusTotals, error) {
	var rows []models.StatusTotals
	err := r.db.WithContext(ctx).Model(&models.Order{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total), 0) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate orders: %w", err)
	}
	return rows, nil
}
