package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopcore/internal/apperrors"
	"shopcore/internal/models"
	"shopcore/internal/repositories"
	"shopcore/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// OrderLine is a requested product and quantity. In item edits a quantity of
// zero removes the line.
type OrderLine struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

// OrderRequest is what a customer submits to place an order.
type OrderRequest struct {
	Lines    []OrderLine
	Shipping models.ShippingDetails
	Notes    string
}

// OrderQuery narrows ListOrders. UserID is only honoured for admins.
type OrderQuery struct {
	UserID string
	Status models.OrderStatus
	Limit  int
	Offset int
}

// IdempotencyStore remembers which order a client supplied key created.
type IdempotencyStore interface {
	Lookup(ctx context.Context, scope, key string) (string, bool, error)
	Remember(ctx context.Context, scope, key, orderID string) error
}

// OrderService handles business logic related to orders.
type OrderService struct {
	txManager   repositories.TxManager
	orderRepo   repositories.OrderRepository
	productRepo repositories.ProductRepository
	ledger      *StockLedger
	publisher   EventPublisher
	idempotency IdempotencyStore
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewOrderService creates a new OrderService. publisher, idempotency and m
// are optional and may be nil.
func NewOrderService(
	txManager repositories.TxManager,
	orderRepo repositories.OrderRepository,
	productRepo repositories.ProductRepository,
	ledger *StockLedger,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	m *metrics.Metrics,
) *OrderService {
	return &OrderService{
		txManager:   txManager,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		ledger:      ledger,
		publisher:   publisher,
		idempotency: idempotency,
		metrics:     m,
		now:         time.Now,
	}
}

// newOrderNumber formats ORD-YYYYMMDD-XXXXXXXX.
func newOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix)
}

// mergeLines folds repeated products into one line, keeping the position of
// their first appearance. Quantities are summed.
func mergeLines(lines []OrderLine) ([]OrderLine, error) {
	merged := make([]OrderLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			return nil, apperrors.Validation("product_id is required for every item")
		}
		if line.Quantity <= 0 {
			return nil, apperrors.Validation("quantity for product %s must be greater than 0", line.ProductID)
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

// CreateOrder reserves stock for every line and places a pending order. If
// any line cannot be reserved nothing is kept. A repeated idempotency key
// returns the order created first, with replayed set.
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, req OrderRequest, idempotencyKey string) (order *models.Order, replayed bool, err error) {
	if len(req.Lines) == 0 {
		return nil, false, apperrors.New(apperrors.KindEmptyOrder, "order must contain at least one item")
	}
	merged, err := mergeLines(req.Lines)
	if err != nil {
		return nil, false, err
	}

	if existing := s.lookupIdempotent(ctx, actor, idempotencyKey); existing != nil {
		return existing, true, nil
	}

	now := s.now()
	order = &models.Order{
		ID:              uuid.New().String(),
		Number:          newOrderNumber(now),
		UserID:          actor.UserID,
		Status:          models.StatusPending,
		ShippingDetails: req.Shipping,
		Notes:           req.Notes,
	}

	err = s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.productRepo.WithTx(tx)
		orders := s.orderRepo.WithTx(tx)

		for i, line := range merged {
			product, err := products.GetByID(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if err := s.ledger.Reserve(ctx, tx, product.ID, line.Quantity); err != nil {
				return err
			}
			order.Items = append(order.Items, models.OrderItem{
				Line:        i + 1,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    line.Quantity,
				UnitPrice:   product.Price,
			})
		}

		Recompute(order)
		if err := orders.Create(ctx, order); err != nil {
			return err
		}
		return orders.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:   order.ID,
			ToStatus:  models.StatusPending,
			ActorID:   actor.UserID,
			ActorRole: actor.Role,
			Notes:     "order placed",
		})
	})
	if err != nil {
		return nil, false, err
	}

	s.metrics.OrderCreated()
	s.rememberIdempotent(ctx, actor, idempotencyKey, order.ID)
	log.Info().Str("order_id", order.ID).Str("number", order.Number).Str("user_id", actor.UserID).
		Int("items", len(order.Items)).Str("total", order.Total.StringFixed(2)).Msg("order created")
	publishEvent(s.publisher, EventOrderCreated, order.ID, newOrderCreatedEvent(order, now))

	return order, false, nil
}

func (s *OrderService) lookupIdempotent(ctx context.Context, actor Actor, key string) *models.Order {
	if s.idempotency == nil || key == "" {
		return nil
	}
	orderID, found, err := s.idempotency.Lookup(ctx, actor.UserID, key)
	if err != nil {
		log.Warn().Err(err).Str("user_id", actor.UserID).Msg("idempotency lookup failed, creating order")
		return nil
	}
	if !found {
		return nil
	}
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("idempotent order no longer readable, creating order")
		return nil
	}
	log.Info().Str("order_id", orderID).Str("user_id", actor.UserID).Msg("idempotent order creation replayed")
	return order
}

func (s *OrderService) rememberIdempotent(ctx context.Context, actor Actor, key, orderID string) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.Remember(ctx, actor.UserID, key, orderID); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Msg("failed to store idempotency key")
	}
}

// lockOwned loads the order under a row lock. Orders of other customers are
// reported as missing.
func lockOwned(ctx context.Context, orders repositories.OrderRepository, actor Actor, orderID string) (*models.Order, error) {
	order, err := orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.owns(order.UserID) {
		return nil, apperrors.NotFound("order with ID %s not found", orderID)
	}
	return order, nil
}

func ensureEditable(order *models.Order) error {
	if !order.Status.Editable() {
		return apperrors.Newf(apperrors.KindOrderLocked, "order %s is %s and can no longer be edited", order.ID, order.Status)
	}
	return nil
}

// foldEdits collapses repeated products in an edit batch into one edit,
// keeping the position of the first appearance and the quantity of the last.
// requested holds the products given a positive quantity anywhere in the batch.
func foldEdits(edits []OrderLine) (folded []OrderLine, requested map[string]bool, err error) {
	folded = make([]OrderLine, 0, len(edits))
	index := make(map[string]int, len(edits))
	requested = make(map[string]bool, len(edits))
	for _, edit := range edits {
		if edit.ProductID == "" {
			return nil, nil, apperrors.Validation("product_id is required for every item")
		}
		if edit.Quantity < 0 {
			return nil, nil, apperrors.Validation("quantity for product %s cannot be negative", edit.ProductID)
		}
		if edit.Quantity > 0 {
			requested[edit.ProductID] = true
		}
		if i, ok := index[edit.ProductID]; ok {
			folded[i].Quantity = edit.Quantity
			continue
		}
		index[edit.ProductID] = len(folded)
		folded = append(folded, edit)
	}
	return folded, requested, nil
}

// UpdateItems applies quantity edits to a pending order. Each edit sets the
// quantity of a product's line, adds the line when the product is new to the
// order, or removes it when the quantity is zero. When a batch names a
// product more than once the last quantity applies. Stock moves by the
// difference only.
func (s *OrderService) UpdateItems(ctx context.Context, actor Actor, orderID string, edits []OrderLine) (*models.Order, error) {
	if len(edits) == 0 {
		return nil, apperrors.Validation("at least one item change is required")
	}
	folded, requested, err := foldEdits(edits)
	if err != nil {
		return nil, err
	}

	var (
		order    *models.Order
		released int
	)
	err = s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		orders := s.orderRepo.WithTx(tx)
		products := s.productRepo.WithTx(tx)

		var err error
		order, err = lockOwned(ctx, orders, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(order); err != nil {
			return err
		}

		released = 0
		for _, edit := range folded {
			item := order.ItemForProduct(edit.ProductID)
			if item == nil {
				if edit.Quantity == 0 {
					if requested[edit.ProductID] {
						continue
					}
					return apperrors.NotFound("product %s is not part of order %s", edit.ProductID, order.ID)
				}
				product, err := products.GetByID(ctx, edit.ProductID)
				if err != nil {
					return err
				}
				if err := s.ledger.Reserve(ctx, tx, product.ID, edit.Quantity); err != nil {
					return err
				}
				order.Items = append(order.Items, models.OrderItem{
					OrderID:     order.ID,
					Line:        order.NextLine(),
					ProductID:   product.ID,
					ProductName: product.Name,
					Quantity:    edit.Quantity,
					UnitPrice:   product.Price,
				})
				continue
			}

			delta := edit.Quantity - item.Quantity
			switch {
			case delta > 0:
				if err := s.ledger.Reserve(ctx, tx, item.ProductID, delta); err != nil {
					return err
				}
			case delta < 0:
				if err := s.ledger.Release(ctx, tx, item.ProductID, -delta); err != nil {
					return err
				}
				released += -delta
			}
			item.Quantity = edit.Quantity
		}

		var removed []string
		kept := 0
		for _, item := range order.Items {
			switch {
			case item.Quantity > 0:
				kept++
			case item.ID != "":
				removed = append(removed, item.ID)
			}
		}
		if kept == 0 {
			return apperrors.New(apperrors.KindEmptyOrder, "order must keep at least one item; cancel the order instead")
		}
		for _, itemID := range removed {
			if err := orders.DeleteItem(ctx, itemID); err != nil {
				return err
			}
		}

		Recompute(order)
		for i := range order.Items {
			if err := orders.SaveItem(ctx, &order.Items[i]); err != nil {
				return err
			}
		}
		return orders.Save(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.afterItemsChanged(order, released)
	return order, nil
}

// RemoveItem deletes one line from a pending order and returns its stock.
// It never cancels the order; removing the last line fails with EmptyOrder.
func (s *OrderService) RemoveItem(ctx context.Context, actor Actor, orderID, itemID string) (*models.Order, error) {
	var (
		order    *models.Order
		released int
	)
	err := s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		orders := s.orderRepo.WithTx(tx)

		var err error
		order, err = lockOwned(ctx, orders, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(order); err != nil {
			return err
		}

		var target *models.OrderItem
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				target = &order.Items[i]
			}
		}
		if target == nil {
			return apperrors.NotFound("order item with ID %s not found in order %s", itemID, orderID)
		}
		if len(order.Items) == 1 {
			return apperrors.New(apperrors.KindEmptyOrder, "cannot remove the last item; cancel the order instead")
		}

		if err := s.ledger.Release(ctx, tx, target.ProductID, target.Quantity); err != nil {
			return err
		}
		released = target.Quantity
		if err := orders.DeleteItem(ctx, target.ID); err != nil {
			return err
		}

		target.Quantity = 0
		Recompute(order)
		return orders.Save(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.afterItemsChanged(order, released)
	return order, nil
}

// UpdateDetails replaces the shipping details and notes of a pending order.
func (s *OrderService) UpdateDetails(ctx context.Context, actor Actor, orderID string, shipping models.ShippingDetails, notes string) (*models.Order, error) {
	var order *models.Order
	err := s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		orders := s.orderRepo.WithTx(tx)

		var err error
		order, err = lockOwned(ctx, orders, actor, orderID)
		if err != nil {
			return err
		}
		if err := ensureEditable(order); err != nil {
			return err
		}

		order.ShippingDetails = shipping
		order.Notes = notes
		return orders.Save(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("order_id", order.ID).Str("user_id", actor.UserID).Msg("order details updated")
	return order, nil
}

func (s *OrderService) afterItemsChanged(order *models.Order, released int) {
	if released > 0 {
		s.metrics.StockReleased(released)
	}
	log.Info().Str("order_id", order.ID).Int("items", len(order.Items)).
		Str("total", order.Total.StringFixed(2)).Msg("order items updated")
	publishEvent(s.publisher, EventOrderItemsUpdated, order.ID, OrderItemsUpdatedEvent{
		OrderID:    order.ID,
		ItemCount:  len(order.Items),
		Subtotal:   order.Subtotal,
		Total:      order.Total,
		OccurredAt: s.now(),
	})
}

// Cancel moves an order to cancelled and returns its reserved stock.
func (s *OrderService) Cancel(ctx context.Context, actor Actor, orderID, notes string) (*models.Order, error) {
	return s.Transition(ctx, actor, orderID, models.StatusCancelled, notes)
}

// UpdateStatus moves an order to target on behalf of actor.
func (s *OrderService) UpdateStatus(ctx context.Context, actor Actor, orderID string, target models.OrderStatus, notes string) (*models.Order, error) {
	return s.Transition(ctx, actor, orderID, target, notes)
}

// Transition applies one state machine step. The status change, its history
// entry and any stock release commit together.
func (s *OrderService) Transition(ctx context.Context, actor Actor, orderID string, target models.OrderStatus, notes string) (*models.Order, error) {
	if !target.Valid() {
		return nil, apperrors.Validation("unknown order status %q", target)
	}

	var (
		order    *models.Order
		from     models.OrderStatus
		released int
	)
	err := s.txManager.WithTx(ctx, func(tx *gorm.DB) error {
		orders := s.orderRepo.WithTx(tx)

		var err error
		order, err = lockOwned(ctx, orders, actor, orderID)
		if err != nil {
			return err
		}

		from = order.Status
		if !from.CanTransitionTo(target) {
			return apperrors.Newf(apperrors.KindInvalidTransition, "cannot move order %s from %s to %s", order.ID, from, target)
		}
		if !CanActorTransition(actor.Role, from, target) {
			return apperrors.Forbidden("role %s may not move an order from %s to %s", actor.Role, from, target)
		}

		now := s.now()
		order.Status = target
		switch target {
		case models.StatusShipped:
			order.ShippedAt = &now
		case models.StatusDelivered:
			order.DeliveredAt = &now
		case models.StatusCancelled:
			order.CancelledAt = &now
			released = 0
			for _, item := range order.Items {
				if err := s.ledger.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
				released += item.Quantity
			}
		}

		if err := orders.Save(ctx, order); err != nil {
			return err
		}
		return orders.AppendHistory(ctx, &models.OrderStatusHistory{
			OrderID:    order.ID,
			FromStatus: from,
			ToStatus:   target,
			ActorID:    actor.UserID,
			ActorRole:  actor.Role,
			Notes:      notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrderTransitioned(string(from), string(target))
	if released > 0 {
		s.metrics.StockReleased(released)
	}
	log.Info().Str("order_id", order.ID).Str("from", string(from)).Str("to", string(target)).
		Str("actor_id", actor.UserID).Msg("order status changed")
	publishEvent(s.publisher, EventOrderStatusChanged, order.ID, OrderStatusChangedEvent{
		OrderID:    order.ID,
		From:       from,
		To:         target,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		OccurredAt: s.now(),
	})
	return order, nil
}

// GetOrder returns one order visible to actor.
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderID string) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.owns(order.UserID) {
		return nil, apperrors.NotFound("order with ID %s not found", orderID)
	}
	return order, nil
}

// ListOrders returns orders newest first. Customers only ever see their own.
func (s *OrderService) ListOrders(ctx context.Context, actor Actor, query OrderQuery) ([]models.Order, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, apperrors.Validation("unknown order status %q", query.Status)
	}
	if query.Limit < 0 || query.Offset < 0 {
		return nil, apperrors.Validation("limit and offset cannot be negative")
	}

	filter := repositories.OrderFilter{
		UserID: query.UserID,
		Status: query.Status,
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if !actor.IsAdmin() {
		filter.UserID = actor.UserID
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return s.orderRepo.List(ctx, filter)
}

// History returns the status changes of an order visible to actor, oldest first.
func (s *OrderService) History(ctx context.Context, actor Actor, orderID string) ([]models.OrderStatusHistory, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.orderRepo.History(ctx, orderID)
}

// Summary aggregates every order by status. Revenue counts orders that are
// processing, shipped or delivered.
func (s *OrderService) Summary(ctx context.Context, actor Actor) (*models.OrderSummary, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("only admins can view the order summary")
	}
	rows, err := s.orderRepo.Totals(ctx)
	if err != nil {
		return nil, err
	}

	summary := &models.OrderSummary{
		ByStatus:          make(map[models.OrderStatus]models.StatusTotals, len(models.AllStatuses)),
		Revenue:           decimal.Zero,
		AverageOrderValue: decimal.Zero,
	}
	for _, status := range models.AllStatuses {
		summary.ByStatus[status] = models.StatusTotals{Status: status, Total: decimal.Zero}
	}

	var revenueOrders int64
	for _, row := range rows {
		summary.ByStatus[row.Status] = row
		summary.TotalOrders += row.Count
		if row.Status.HoldsRevenue() {
			summary.Revenue = summary.Revenue.Add(row.Total)
			revenueOrders += row.Count
		}
	}
	if revenueOrders > 0 {
		summary.AverageOrderValue = summary.Revenue.Div(decimal.NewFromInt(revenueOrders)).Round(2)
	}
	return summary, nil
}
