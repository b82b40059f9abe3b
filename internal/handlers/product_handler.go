package handlers

import (
	"strconv"

	"shopcore/internal/apperrors"
	"shopcore/internal/middleware"
	"shopcore/internal/models"
	"shopcore/internal/repositories"
	"shopcore/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// ProductHandler handles HTTP requests for products.
type ProductHandler struct {
	service  *services.ProductService
	validate *validator.Validate
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(service *services.ProductService) *ProductHandler {
	return &ProductHandler{
		service:  service,
		validate: newValidator(),
	}
}

// RegisterRoutes registers the product routes. router must already require
// authentication; writes additionally require the admin role.
func (h *ProductHandler) RegisterRoutes(router fiber.Router) {
	productRoutes := router.Group("/products")
	productRoutes.Get("/", h.HandleGetProducts)
	productRoutes.Get("/:id", h.HandleGetProductByID)
	productRoutes.Post("/", middleware.AdminRequired(), h.HandleCreateProduct)
	productRoutes.Put("/:id", middleware.AdminRequired(), h.HandleUpdateProduct)
	productRoutes.Put("/:id/stock", middleware.AdminRequired(), h.HandleSetStock)
	productRoutes.Delete("/:id", middleware.AdminRequired(), h.HandleDeleteProduct)
}

// ProductRequest is the body of product create and update requests. Stock is
// ignored on update.
type ProductRequest struct {
	Name        string          `json:"name" validate:"required,min=3,max=100"`
	SKU         *string         `json:"sku" validate:"omitempty,max=64"`
	Description string          `json:"description" validate:"omitempty,max=500"`
	Price       decimal.Decimal `json:"price" validate:"gt=0"`
	Stock       int             `json:"stock" validate:"gte=0"`
}

func (r ProductRequest) toModel() *models.Product {
	return &models.Product{
		Name:        r.Name,
		SKU:         r.SKU,
		Description: r.Description,
		Price:       r.Price.Round(2),
		Stock:       r.Stock,
	}
}

// StockRequest is the body of a stock overwrite.
type StockRequest struct {
	Stock *int `json:"stock" validate:"required,gte=0"`
}

// productFilter reads the q, min_price, max_price and in_stock query parameters.
func productFilter(c *fiber.Ctx) (repositories.ProductFilter, error) {
	filter := repositories.ProductFilter{Query: c.Query("q")}
	var err error
	if filter.MinPrice, err = queryPrice(c, "min_price"); err != nil {
		return filter, err
	}
	if filter.MaxPrice, err = queryPrice(c, "max_price"); err != nil {
		return filter, err
	}
	if raw := c.Query("in_stock"); raw != "" {
		inStock, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, apperrors.Validation("in_stock must be true or false")
		}
		filter.InStock = &inStock
	}
	return filter, nil
}

func queryPrice(c *fiber.Ctx, param string) (*decimal.Decimal, error) {
	raw := c.Query(param)
	if raw == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil || value.IsNegative() {
		return nil, apperrors.Validation("%s must be a non-negative number", param)
	}
	return &value, nil
}

// HandleGetProducts lists products, narrowed by the optional search filters.
func (h *ProductHandler) HandleGetProducts(c *fiber.Ctx) error {
	filter, err := productFilter(c)
	if err != nil {
		return respondError(c, err)
	}
	products, err := h.service.SearchProducts(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(products)
}

// HandleGetProductByID retrieves a single product by its ID.
func (h *ProductHandler) HandleGetProductByID(c *fiber.Ctx) error {
	product, err := h.service.GetProductByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(product)
}

// HandleCreateProduct creates a new product.
func (h *ProductHandler) HandleCreateProduct(c *fiber.Ctx) error {
	var req ProductRequest
	if ok, err := parseBody(c, h.validate, &req); !ok {
		return err
	}

	product := req.toModel()
	if err := h.service.CreateProduct(c.UserContext(), product); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// HandleUpdateProduct updates the catalog fields of a product.
func (h *ProductHandler) HandleUpdateProduct(c *fiber.Ctx) error {
	var req ProductRequest
	if ok, err := parseBody(c, h.validate, &req); !ok {
		return err
	}

	product := req.toModel()
	product.ID = c.Params("id")
	if err := h.service.UpdateProduct(c.UserContext(), product); err != nil {
		return respondError(c, err)
	}

	updated, err := h.service.GetProductByID(c.UserContext(), product.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(updated)
}

// HandleSetStock overwrites the available quantity of a product.
func (h *ProductHandler) HandleSetStock(c *fiber.Ctx) error {
	var req StockRequest
	if ok, err := parseBody(c, h.validate, &req); !ok {
		return err
	}

	product, err := h.service.SetStock(c.UserContext(), c.Params("id"), *req.Stock)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(product)
}

// HandleDeleteProduct deletes a product.
func (h *ProductHandler) HandleDeleteProduct(c *fiber.Ctx) error {
	if err := h.service.DeleteProduct(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
