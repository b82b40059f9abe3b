package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shopcore/internal/apperrors"
	"shopcore/internal/config"
	"shopcore/internal/database"
	"shopcore/internal/models"
	"shopcore/internal/repositories"
	"shopcore/internal/services"
	"shopcore/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = services.Actor{UserID: "alice", Role: models.RoleCustomer}
	bob   = services.Actor{UserID: "bob", Role: models.RoleCustomer}
	admin = services.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

type recordingPublisher struct {
	mu     sync.Mutex
	keys   []string
	failed bool
}

func (p *recordingPublisher) Publish(routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	if p.failed {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type memoryIdempotency struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *memoryIdempotency) Lookup(ctx context.Context, scope, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.entries[scope+"/"+key]
	return id, ok, nil
}

func (m *memoryIdempotency) Remember(ctx context.Context, scope, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[scope+"/"+key]; !ok {
		m.entries[scope+"/"+key] = orderID
	}
	return nil
}

type fixture struct {
	products  repositories.ProductRepository
	orders    repositories.OrderRepository
	service   *services.OrderService
	publisher *recordingPublisher
}

func newFixture(t *testing.T, idem services.IdempotencyStore) *fixture {
	t.Helper()
	db, err := database.Open(config.DriverSQLite, "file:svc_"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	m := metrics.New()
	products := repositories.NewGORMProductRepository(db)
	orders := repositories.NewGORMOrderRepository(db)
	publisher := &recordingPublisher{}
	ledger := services.NewStockLedger(products, m)

	return &fixture{
		products:  products,
		orders:    orders,
		publisher: publisher,
		service: services.NewOrderService(
			repositories.NewGORMTxManager(db), orders, products, ledger, publisher, idem, m,
		),
	}
}

func (f *fixture) product(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	require.NoError(t, f.products.Create(context.Background(), p))
	return p
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.products.GetByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) place(t *testing.T, actor services.Actor, lines ...services.OrderLine) *models.Order {
	t.Helper()
	order, _, err := f.service.CreateOrder(context.Background(), actor, services.OrderRequest{Lines: lines}, "")
	require.NoError(t, err)
	return order
}

func line(productID string, qty int) services.OrderLine {
	return services.OrderLine{ProductID: productID, Quantity: qty}
}

func assertTotalsConsistent(t *testing.T, order *models.Order) {
	t.Helper()
	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	assert.True(t, sum.Equal(order.Total), "total %s != sum of lines %s", order.Total, sum)
	assert.True(t, order.Subtotal.Equal(order.Total))
}

func TestCreateOrder_ComputesTotalsAndReservesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p1 := f.product(t, "Notebook", "10.00", 10)
	p2 := f.product(t, "Pencil", "5.00", 10)

	order, replayed, err := f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p1.ID, 2), line(p2.ID, 1)}}, "")
	require.NoError(t, err)
	assert.False(t, replayed)

	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, "alice", order.UserID)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, order.Number)
	assert.True(t, decimal.RequireFromString("25.00").Equal(order.Subtotal), order.Subtotal.String())
	assert.True(t, decimal.RequireFromString("25.00").Equal(order.Total), order.Total.String())
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Notebook", order.Items[0].ProductName)
	assert.Equal(t, 1, order.Items[0].Line)
	assert.Equal(t, 2, order.Items[1].Line)

	assert.Equal(t, 8, f.stock(t, p1.ID))
	assert.Equal(t, 9, f.stock(t, p2.ID))

	stored, err := f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	assertTotalsConsistent(t, stored)

	history, err := f.service.History(ctx, alice, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.OrderStatus(""), history[0].FromStatus)
	assert.Equal(t, models.StatusPending, history[0].ToStatus)
	assert.Equal(t, "alice", history[0].ActorID)

	assert.Equal(t, []string{services.EventOrderCreated}, f.publisher.Keys())
}

func TestCreateOrder_PriceIsSnapshotted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Lamp", "30.00", 5)
	order := f.place(t, alice, line(p.ID, 1))

	p.Price = decimal.RequireFromString("99.99")
	require.NoError(t, f.products.Update(ctx, p))

	stored, err := f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("30.00").Equal(stored.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("30.00").Equal(stored.Total))
}

func TestCreateOrder_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Mug", "8.00", 3)

	_, _, err := f.service.CreateOrder(ctx, alice, services.OrderRequest{}, "")
	assert.True(t, apperrors.Is(err, apperrors.KindEmptyOrder), "got %v", err)

	_, _, err = f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 0)}}, "")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)

	_, _, err = f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line("", 1)}}, "")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)

	_, _, err = f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 1), line("missing", 1)}}, "")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)
	assert.Equal(t, 3, f.stock(t, p.ID), "reservation for the first line is rolled back")

	orders, err := f.service.ListOrders(ctx, admin, services.OrderQuery{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.publisher.Keys())
}

func TestCreateOrder_InsufficientStockRollsBackEveryReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p1 := f.product(t, "Chair", "40.00", 5)
	p2 := f.product(t, "Desk", "150.00", 1)

	_, _, err := f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p1.ID, 3), line(p2.ID, 2)}}, "")
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientStock), "got %v", err)
	assert.Contains(t, err.Error(), "requested: 2, available: 1")

	assert.Equal(t, 5, f.stock(t, p1.ID))
	assert.Equal(t, 1, f.stock(t, p2.ID))

	orders, err := f.service.ListOrders(ctx, admin, services.OrderQuery{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCreateOrder_MergesRepeatedProducts(t *testing.T) {
	f := newFixture(t, nil)
	p1 := f.product(t, "Cable", "3.50", 10)
	p2 := f.product(t, "Plug", "2.00", 10)

	order := f.place(t, alice, line(p1.ID, 1), line(p2.ID, 1), line(p1.ID, 2))

	require.Len(t, order.Items, 2)
	assert.Equal(t, p1.ID, order.Items[0].ProductID)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("12.50").Equal(order.Total), order.Total.String())
	assert.Equal(t, 7, f.stock(t, p1.ID))
}

func TestStockScenario_LastUnitsAndCancellation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Headphones", "60.00", 5)

	orderA := f.place(t, alice, line(p.ID, 5))
	assert.Equal(t, 0, f.stock(t, p.ID))

	_, _, err := f.service.CreateOrder(ctx, bob, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 1)}}, "")
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientStock), "got %v", err)
	assert.Equal(t, 0, f.stock(t, p.ID))

	cancelled, err := f.service.Cancel(ctx, alice, orderA.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 5, f.stock(t, p.ID))

	f.place(t, bob, line(p.ID, 1))
	assert.Equal(t, 4, f.stock(t, p.ID))
}

func TestCancel_TwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Backpack", "45.00", 4)
	order := f.place(t, alice, line(p.ID, 3))

	_, err := f.service.Cancel(ctx, alice, order.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 4, f.stock(t, p.ID))

	_, err = f.service.Cancel(ctx, alice, order.ID, "")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition), "got %v", err)
	assert.Equal(t, 4, f.stock(t, p.ID), "stock is released only once")

	history, err := f.service.History(ctx, alice, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.StatusPending, history[1].FromStatus)
	assert.Equal(t, models.StatusCancelled, history[1].ToStatus)
}

func TestCancel_ProcessingOrderByAdminReleasesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Kettle", "25.00", 6)
	order := f.place(t, alice, line(p.ID, 2))

	_, err := f.service.UpdateStatus(ctx, admin, order.ID, models.StatusProcessing, "")
	require.NoError(t, err)

	_, err = f.service.Cancel(ctx, alice, order.ID, "")
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden), "customers cannot cancel once processing: %v", err)
	assert.Equal(t, 4, f.stock(t, p.ID))

	_, err = f.service.Cancel(ctx, admin, order.ID, "out of stock at warehouse")
	require.NoError(t, err)
	assert.Equal(t, 6, f.stock(t, p.ID))
}

func TestUpdateStatus_CapabilityAndLegality(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Toaster", "35.00", 3)
	order := f.place(t, alice, line(p.ID, 1))

	_, err := f.service.UpdateStatus(ctx, alice, order.ID, models.StatusProcessing, "")
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden), "got %v", err)

	_, err = f.service.UpdateStatus(ctx, alice, order.ID, models.StatusDelivered, "")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition), "legality is checked before capability: %v", err)

	_, err = f.service.UpdateStatus(ctx, admin, order.ID, models.StatusDelivered, "")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition), "got %v", err)

	_, err = f.service.UpdateStatus(ctx, admin, order.ID, models.OrderStatus("lost"), "")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)

	processing, err := f.service.UpdateStatus(ctx, admin, order.ID, models.StatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, processing.Status)

	shipped, err := f.service.UpdateStatus(ctx, admin, order.ID, models.StatusShipped, "tracking 123")
	require.NoError(t, err)
	assert.NotNil(t, shipped.ShippedAt)

	delivered, err := f.service.UpdateStatus(ctx, admin, order.ID, models.StatusDelivered, "")
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)
	assert.Equal(t, 2, f.stock(t, p.ID), "delivery keeps the reservation")

	_, err = f.service.Cancel(ctx, admin, order.ID, "")
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidTransition), "got %v", err)

	history, err := f.service.History(ctx, admin, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "tracking 123", history[2].Notes)
	assert.Equal(t, models.RoleAdmin, history[2].ActorRole)

	assert.Equal(t, []string{
		services.EventOrderCreated,
		services.EventOrderStatusChanged,
		services.EventOrderStatusChanged,
		services.EventOrderStatusChanged,
	}, f.publisher.Keys())
}

func TestUpdateItems_PendingOrderRecomputes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p1 := f.product(t, "Notebook", "10.00", 10)
	p2 := f.product(t, "Pencil", "5.00", 10)
	p3 := f.product(t, "Eraser", "7.50", 10)
	order := f.place(t, alice, line(p1.ID, 2), line(p2.ID, 1))

	updated, err := f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{
		line(p1.ID, 4),
		line(p2.ID, 0),
		line(p3.ID, 1),
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("47.50").Equal(updated.Total), updated.Total.String())
	assertTotalsConsistent(t, updated)

	assert.Equal(t, 6, f.stock(t, p1.ID))
	assert.Equal(t, 10, f.stock(t, p2.ID))
	assert.Equal(t, 9, f.stock(t, p3.ID))

	stored, err := f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, p1.ID, stored.Items[0].ProductID)
	assert.Equal(t, 4, stored.Items[0].Quantity)
	assert.Equal(t, p3.ID, stored.Items[1].ProductID)
	assert.Equal(t, 3, stored.Items[1].Line)
	assert.True(t, decimal.RequireFromString("47.50").Equal(stored.Total))
	assertTotalsConsistent(t, stored)

	decreased, err := f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{line(p1.ID, 1)})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("17.50").Equal(decreased.Total), decreased.Total.String())
	assert.Equal(t, 9, f.stock(t, p1.ID))

	assert.Contains(t, f.publisher.Keys(), services.EventOrderItemsUpdated)
}

func TestUpdateItems_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p1 := f.product(t, "Notebook", "10.00", 3)
	p2 := f.product(t, "Pencil", "5.00", 10)
	order := f.place(t, alice, line(p1.ID, 2))

	_, err := f.service.UpdateItems(ctx, alice, order.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)

	_, err = f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{line(p1.ID, -1)})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "got %v", err)

	_, err = f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{line(p1.ID, 0)})
	assert.True(t, apperrors.Is(err, apperrors.KindEmptyOrder), "got %v", err)

	_, err = f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{line(p2.ID, 0)})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)

	_, err = f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{line(p2.ID, 4), line(p1.ID, 5)})
	assert.True(t, apperrors.Is(err, apperrors.KindInsufficientStock), "got %v", err)
	assert.Equal(t, 10, f.stock(t, p2.ID), "added line is rolled back")
	assert.Equal(t, 1, f.stock(t, p1.ID))

	_, err = f.service.UpdateItems(ctx, bob, order.ID, []services.OrderLine{line(p1.ID, 1)})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "foreign orders are hidden: %v", err)

	stored, err := f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("20.00").Equal(stored.Total))
}

func TestUpdateItems_RepeatedProductInBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p1 := f.product(t, "Notebook", "10.00", 10)
	p2 := f.product(t, "Pencil", "5.00", 10)
	order := f.place(t, alice, line(p1.ID, 2))

	updated, err := f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{
		line(p2.ID, 2),
		line(p2.ID, 0),
	})
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, p1.ID, updated.Items[0].ProductID)
	assert.Equal(t, 10, f.stock(t, p2.ID))
	assert.True(t, decimal.RequireFromString("20.00").Equal(updated.Total), updated.Total.String())

	updated, err = f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{
		line(p1.ID, 5),
		line(p2.ID, 3),
		line(p1.ID, 1),
	})
	require.NoError(t, err)
	require.Len(t, updated.Items, 2)
	assert.Equal(t, 1, updated.Items[0].Quantity, "last quantity for a product applies")
	assert.Equal(t, 9, f.stock(t, p1.ID))
	assert.Equal(t, 7, f.stock(t, p2.ID))
	assertTotalsConsistent(t, updated)

	stored, err := f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.True(t, decimal.RequireFromString("25.00").Equal(stored.Total), stored.Total.String())
}

func TestUpdateItems_LockedOnceShipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Scarf", "15.00", 10)
	order := f.place(t, alice, line(p.ID, 2))

	for _, status := range []models.OrderStatus{models.StatusProcessing, models.StatusShipped} {
		_, err := f.service.UpdateStatus(ctx, admin, order.ID, status, "")
		require.NoError(t, err)
	}

	_, err := f.service.UpdateItems(ctx, alice, order.ID, []services.OrderLine{line(p.ID, 3)})
	assert.True(t, apperrors.Is(err, apperrors.KindOrderLocked), "got %v", err)
	_, err = f.service.UpdateItems(ctx, admin, order.ID, []services.OrderLine{line(p.ID, 3)})
	assert.True(t, apperrors.Is(err, apperrors.KindOrderLocked), "got %v", err)
	assert.Equal(t, 8, f.stock(t, p.ID))

	stored, err := f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	_, err = f.service.RemoveItem(ctx, alice, order.ID, stored.Items[0].ID)
	assert.True(t, apperrors.Is(err, apperrors.KindOrderLocked), "got %v", err)
}

func TestOrderDetails_StoredAndEditableWhilePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Lamp", "30.00", 5)

	shipping := models.ShippingDetails{
		Address:    "12 Main Street",
		City:       "Dhaka",
		PostalCode: "1207",
		Phone:      "01712345678",
	}
	order, _, err := f.service.CreateOrder(ctx, alice, services.OrderRequest{
		Lines:    []services.OrderLine{line(p.ID, 1)},
		Shipping: shipping,
		Notes:    "leave at the door",
	}, "")
	require.NoError(t, err)

	stored, err := f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, shipping, stored.ShippingDetails)
	assert.Equal(t, "leave at the door", stored.Notes)

	moved := shipping
	moved.City = "Chittagong"
	updated, err := f.service.UpdateDetails(ctx, alice, order.ID, moved, "")
	require.NoError(t, err)
	assert.Equal(t, "Chittagong", updated.City)
	assert.Empty(t, updated.Notes)
	assert.Len(t, updated.Items, 1)

	_, err = f.service.UpdateDetails(ctx, bob, order.ID, moved, "")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)

	_, err = f.service.UpdateStatus(ctx, admin, order.ID, models.StatusProcessing, "")
	require.NoError(t, err)
	_, err = f.service.UpdateDetails(ctx, alice, order.ID, shipping, "")
	assert.True(t, apperrors.Is(err, apperrors.KindOrderLocked), "got %v", err)

	stored, err = f.service.GetOrder(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Chittagong", stored.City)
	assert.True(t, decimal.RequireFromString("30.00").Equal(stored.Total))
}

func TestRemoveItem_DoesNotCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p1 := f.product(t, "Notebook", "10.00", 10)
	p2 := f.product(t, "Pencil", "5.00", 10)
	order := f.place(t, alice, line(p1.ID, 2), line(p2.ID, 1))

	_, err := f.service.RemoveItem(ctx, alice, order.ID, "missing")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)

	updated, err := f.service.RemoveItem(ctx, alice, order.ID, order.Items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, updated.Status)
	require.Len(t, updated.Items, 1)
	assert.True(t, decimal.RequireFromString("20.00").Equal(updated.Total), updated.Total.String())
	assert.Equal(t, 10, f.stock(t, p2.ID))

	_, err = f.service.RemoveItem(ctx, alice, order.ID, order.Items[0].ID)
	assert.True(t, apperrors.Is(err, apperrors.KindEmptyOrder), "got %v", err)
	assert.Equal(t, 8, f.stock(t, p1.ID))

	history, err := f.service.History(ctx, alice, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "item removal is not a status change")
}

func TestOrders_AreScopedToTheirOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Plant", "12.00", 10)
	order := f.place(t, alice, line(p.ID, 1))
	f.place(t, alice, line(p.ID, 1))
	f.place(t, bob, line(p.ID, 1))

	_, err := f.service.GetOrder(ctx, bob, order.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)
	_, err = f.service.History(ctx, bob, order.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)
	_, err = f.service.Cancel(ctx, bob, order.ID, "")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound), "got %v", err)

	mine, err := f.service.ListOrders(ctx, bob, services.OrderQuery{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, mine, 1, "customers cannot list other users' orders")
	assert.Equal(t, "bob", mine[0].UserID)

	all, err := f.service.ListOrders(ctx, admin, services.OrderQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	forAlice, err := f.service.ListOrders(ctx, admin, services.OrderQuery{UserID: "alice", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, forAlice, 1)

	_, err = f.service.ListOrders(ctx, admin, services.OrderQuery{Status: "lost"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	_, err = f.service.ListOrders(ctx, admin, services.OrderQuery{Offset: -1})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestCreateOrder_ConcurrentReservationsOfLastUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Limited Edition", "500.00", 1)

	const buyers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := services.Actor{UserID: uuid.NewString(), Role: models.RoleCustomer}
			_, _, err := f.service.CreateOrder(ctx, actor, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 1)}}, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperrors.Is(err, apperrors.KindInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, rejected)
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &memoryIdempotency{entries: map[string]string{}})
	p := f.product(t, "Bottle", "9.00", 10)

	first, replayed, err := f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 2)}}, "key-1")
	require.NoError(t, err)
	assert.False(t, replayed)

	again, replayed, err := f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 2)}}, "key-1")
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 8, f.stock(t, p.ID), "replay reserves nothing")

	other, replayed, err := f.service.CreateOrder(ctx, bob, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 1)}}, "key-1")
	require.NoError(t, err)
	assert.False(t, replayed, "keys are scoped per user")
	assert.NotEqual(t, first.ID, other.ID)

	_, replayed, err = f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 1)}}, "")
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 6, f.stock(t, p.ID))
}

func TestPublishFailureDoesNotFailOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.publisher.failed = true
	p := f.product(t, "Candle", "4.00", 2)

	order, _, err := f.service.CreateOrder(ctx, alice, services.OrderRequest{Lines: []services.OrderLine{line(p.ID, 1)}}, "")
	require.NoError(t, err)
	_, err = f.service.Cancel(ctx, alice, order.ID, "")
	require.NoError(t, err)
	assert.Len(t, f.publisher.Keys(), 2)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.product(t, "Book", "10.00", 100)

	f.place(t, alice, line(p.ID, 1))
	processing := f.place(t, alice, line(p.ID, 2))
	delivered := f.place(t, bob, line(p.ID, 4))
	cancelled := f.place(t, bob, line(p.ID, 3))

	_, err := f.service.UpdateStatus(ctx, admin, processing.ID, models.StatusProcessing, "")
	require.NoError(t, err)
	for _, status := range []models.OrderStatus{models.StatusProcessing, models.StatusShipped, models.StatusDelivered} {
		_, err := f.service.UpdateStatus(ctx, admin, delivered.ID, status, "")
		require.NoError(t, err)
	}
	_, err = f.service.Cancel(ctx, bob, cancelled.ID, "")
	require.NoError(t, err)

	_, err = f.service.Summary(ctx, alice)
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden), "got %v", err)

	summary, err := f.service.Summary(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.TotalOrders)
	assert.Len(t, summary.ByStatus, len(models.AllStatuses))
	assert.Equal(t, int64(1), summary.ByStatus[models.StatusPending].Count)
	assert.Equal(t, int64(0), summary.ByStatus[models.StatusShipped].Count)
	assert.Equal(t, int64(1), summary.ByStatus[models.StatusCancelled].Count)
	assert.True(t, decimal.RequireFromString("60.00").Equal(summary.Revenue), summary.Revenue.String())
	assert.True(t, decimal.RequireFromString("30.00").Equal(summary.AverageOrderValue), summary.AverageOrderValue.String())
}
