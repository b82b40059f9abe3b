package server

import (
	"time"

	"shopcore/internal/apperrors"
	"shopcore/internal/handlers"
	"shopcore/internal/middleware"
	"shopcore/internal/repositories"
	"shopcore/internal/services"
	"shopcore/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"gorm.io/gorm"
)

// Options holds everything the HTTP server is built from. Publisher,
// Idempotency and Metrics are optional.
type Options struct {
	DB          *gorm.DB
	JWTSecret   string
	TokenTTL    time.Duration
	Publisher   services.EventPublisher
	Idempotency services.IdempotencyStore
	Metrics     *metrics.Metrics
}

// Server bundles the fiber app with the services main needs at startup.
type Server struct {
	App            *fiber.App
	AuthService    *services.AuthService
	ProductService *services.ProductService
	OrderService   *services.OrderService
}

// New wires repositories, services and handlers into a fiber app.
func New(opts Options) *Server {
	productRepo := repositories.NewGORMProductRepository(opts.DB)
	orderRepo := repositories.NewGORMOrderRepository(opts.DB)
	userRepo := repositories.NewGORMUserRepository(opts.DB)
	txManager := repositories.NewGORMTxManager(opts.DB)

	ledger := services.NewStockLedger(productRepo, opts.Metrics)
	authService := services.NewAuthService(userRepo, opts.JWTSecret, opts.TokenTTL)
	productService := services.NewProductService(productRepo, ledger)
	orderService := services.NewOrderService(txManager, orderRepo, productRepo, ledger, opts.Publisher, opts.Idempotency, opts.Metrics)

	app := fiber.New(fiber.Config{
		AppName:      "shopcore",
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())
	if opts.Metrics != nil {
		app.Use(opts.Metrics.Middleware())
		app.Get("/metrics", opts.Metrics.Handler())
	}

	app.Get("/health", healthHandler(opts.DB))

	apiV1 := app.Group("/api/v1")
	authHandler := handlers.NewAuthHandler(authService)
	authHandler.RegisterRoutes(apiV1)

	protectedRoutes := apiV1.Group("", middleware.AuthRequired(authService))
	authHandler.RegisterProfileRoutes(protectedRoutes)
	handlers.NewProductHandler(productService).RegisterRoutes(protectedRoutes)
	handlers.NewOrderHandler(orderService).RegisterRoutes(protectedRoutes)

	return &Server{
		App:            app,
		AuthService:    authService,
		ProductService: productService,
		OrderService:   orderService,
	}
}

func healthHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := "healthy"
		code := fiber.StatusOK
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			status = "unhealthy"
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

// errorHandler renders errors that escape handlers, such as unmatched routes
// and recovered panics, in the same envelope as handled failures.
func errorHandler(c *fiber.Ctx, err error) error {
	if fe, ok := err.(*fiber.Error); ok {
		return c.Status(fe.Code).JSON(fiber.Map{
			"message": fe.Message,
			"error":   kindForStatus(fe.Code),
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(apperrors.Body(apperrors.Internal(err, "unhandled error")))
}

func kindForStatus(code int) apperrors.Kind {
	switch code {
	case fiber.StatusNotFound:
		return apperrors.KindNotFound
	case fiber.StatusUnauthorized:
		return apperrors.KindUnauthorized
	case fiber.StatusForbidden:
		return apperrors.KindForbidden
	}
	if code < fiber.StatusInternalServerError {
		return apperrors.KindValidation
	}
	return apperrors.KindInternal
}
