package handlers

import (
	"shopcore/internal/middleware"
	"shopcore/internal/models"
	"shopcore/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// IdempotencyHeader carries the client supplied key for order creation.
const IdempotencyHeader = "Idempotency-Key"

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service  *services.OrderService
	validate *validator.Validate
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
	}
}

// RegisterRoutes registers the order routes. router must already require
// authentication.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Get("/", h.HandleGetOrders)
	orderRoutes.Post("/", h.HandleCreateOrder)
	// Registered before /:id so "summary" is not read as an order ID.
	orderRoutes.Get("/summary", middleware.AdminRequired(), h.HandleSummary)
	orderRoutes.Get("/:id", h.HandleGetOrderByID)
	orderRoutes.Patch("/:id", h.HandleUpdateItems)
	orderRoutes.Put("/:id/shipping", h.HandleUpdateDetails)
	orderRoutes.Delete("/:id/items/:itemId", h.HandleRemoveItem)
	orderRoutes.Post("/:id/cancel", h.HandleCancelOrder)
	orderRoutes.Post("/:id/status", middleware.AdminRequired(), h.HandleUpdateOrderStatus)
	orderRoutes.Get("/:id/history", h.HandleGetHistory)
}

// ItemsRequest is the body of item edits.
type ItemsRequest struct {
	Items []services.OrderLine `json:"items" validate:"dive"`
}

// DetailsRequest carries the optional delivery details and notes of an order.
type DetailsRequest struct {
	ShippingAddress    string `json:"shipping_address" validate:"max=500"`
	ShippingCity       string `json:"shipping_city" validate:"max=100"`
	ShippingPostalCode string `json:"shipping_postal_code" validate:"max=20"`
	ShippingPhone      string `json:"shipping_phone" validate:"omitempty,numeric,min=10,max=15"`
	Notes              string `json:"notes" validate:"max=1000"`
}

func (r DetailsRequest) shipping() models.ShippingDetails {
	return models.ShippingDetails{
		Address:    r.ShippingAddress,
		City:       r.ShippingCity,
		PostalCode: r.ShippingPostalCode,
		Phone:      r.ShippingPhone,
	}
}

// CreateOrderRequest is the body of order creation.
type CreateOrderRequest struct {
	Items []services.OrderLine `json:"items" validate:"dive"`
	DetailsRequest
}

// StatusRequest is the body of an admin status change.
type StatusRequest struct {
	Status models.OrderStatus `json:"status" validate:"required"`
	Notes  string             `json:"notes" validate:"max=500"`
}

// CancelRequest is the optional body of a cancellation.
type CancelRequest struct {
	Notes string `json:"notes" validate:"max=500"`
}

// HandleGetOrders lists orders visible to the caller.
func (h *OrderHandler) HandleGetOrders(c *fiber.Ctx) error {
	query := services.OrderQuery{
		UserID: c.Query("user_id"),
		Status: models.OrderStatus(c.Query("status")),
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	orders, err := h.service.ListOrders(c.UserContext(), middleware.CurrentActor(c), query)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(orders)
}

// HandleGetOrderByID retrieves a single order by its ID.
func (h *OrderHandler) HandleGetOrderByID(c *fiber.Ctx) error {
	order, err := h.service.GetOrder(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// HandleCreateOrder places a new order for the caller. A repeated
// Idempotency-Key returns the original order with 200 instead of 201.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var req CreateOrderRequest
	if ok, err := parseBody(c, h.validate, &req); !ok {
		return err
	}

	orderReq := services.OrderRequest{
		Lines:    req.Items,
		Shipping: req.shipping(),
		Notes:    req.Notes,
	}
	order, replayed, err := h.service.CreateOrder(c.UserContext(), middleware.CurrentActor(c), orderReq, c.Get(IdempotencyHeader))
	if err != nil {
		return respondError(c, err)
	}
	if replayed {
		c.Set("Idempotent-Replayed", "true")
		return c.JSON(order)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// HandleUpdateItems applies item quantity edits to a pending order.
func (h *OrderHandler) HandleUpdateItems(c *fiber.Ctx) error {
	var req ItemsRequest
	if ok, err := parseBody(c, h.validate, &req); !ok {
		return err
	}

	order, err := h.service.UpdateItems(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), req.Items)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// HandleUpdateDetails replaces the shipping details and notes of a pending order.
func (h *OrderHandler) HandleUpdateDetails(c *fiber.Ctx) error {
	var req DetailsRequest
	if ok, err := parseBody(c, h.validate, &req); !ok {
		return err
	}

	order, err := h.service.UpdateDetails(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), req.shipping(), req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// HandleRemoveItem removes one line from a pending order.
func (h *OrderHandler) HandleRemoveItem(c *fiber.Ctx) error {
	order, err := h.service.RemoveItem(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), c.Params("itemId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// HandleCancelOrder cancels an order and releases its stock.
func (h *OrderHandler) HandleCancelOrder(c *fiber.Ctx) error {
	var req CancelRequest
	if len(c.Body()) > 0 {
		if ok, err := parseBody(c, h.validate, &req); !ok {
			return err
		}
	}

	order, err := h.service.Cancel(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// HandleUpdateOrderStatus moves an order to the requested status.
func (h *OrderHandler) HandleUpdateOrderStatus(c *fiber.Ctx) error {
	var req StatusRequest
	if ok, err := parseBody(c, h.validate, &req); !ok {
		return err
	}

	order, err := h.service.UpdateStatus(c.UserContext(), middleware.CurrentActor(c), c.Params("id"), req.Status, req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(order)
}

// HandleGetHistory returns the status history of an order.
func (h *OrderHandler) HandleGetHistory(c *fiber.Ctx) error {
	history, err := h.service.History(c.UserContext(), middleware.CurrentActor(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(history)
}

// HandleSummary returns order counts and totals per status.
func (h *OrderHandler) HandleSummary(c *fiber.Ctx) error {
	summary, err := h.service.Summary(c.UserContext(), middleware.CurrentActor(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}
