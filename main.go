package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopcore/internal/config"
	"shopcore/internal/database"
	"shopcore/internal/logger"
	"shopcore/internal/models"
	"shopcore/internal/server"
	"shopcore/internal/services"
	"shopcore/pkg/idempotency"
	"shopcore/pkg/metrics"
	"shopcore/pkg/rabbitmq"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("shopcore stopped with error")
	}
}

func run(cfg *config.Config) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, database.Close(db)) }()
	if err := database.Migrate(db); err != nil {
		return err
	}

	// --- RabbitMQ ---
	var (
		publisher services.EventPublisher
		mqClient  *rabbitmq.Client
	)
	if cfg.RabbitMQURL != "" {
		mqClient, err = rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL})
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, mqClient.Close()) }()
		publisher = mqClient
	} else {
		log.Warn().Msg("RABBITMQ_URL is empty, order events are disabled")
	}

	// --- Redis ---
	var idem services.IdempotencyStore
	if cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, redisErr := idempotency.NewClient(pingCtx, cfg.RedisAddr)
		cancel()
		if redisErr != nil {
			return redisErr
		}
		defer func() { err = multierr.Append(err, rdb.Close()) }()
		idem = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
	} else {
		log.Info().Msg("REDIS_ADDR is empty, idempotency keys are ignored")
	}

	srv := buildServer(cfg, db, publisher, idem)

	if cfg.AdminBootstrap() {
		if err := srv.AuthService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("failed to bootstrap admin: %w", err)
		}
	}
	if cfg.SeedDemoData {
		seedProducts(ctx, srv.ProductService)
	}

	if mqClient != nil {
		if err := mqClient.ConsumeOrderEvents(logOrderEvent); err != nil {
			log.Error().Err(err).Msg("failed to start order event consumer")
		}
	}

	// --- HTTP ---
	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.AppPort).Msg("starting server")
		listenErr <- srv.App.Listen(cfg.AppPort)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	if err := srv.App.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	log.Info().Msg("server gracefully stopped")
	return nil
}

func buildServer(cfg *config.Config, db *gorm.DB, publisher services.EventPublisher, idem services.IdempotencyStore) *server.Server {
	return server.New(server.Options{
		DB:          db,
		JWTSecret:   cfg.JWTSecret,
		TokenTTL:    cfg.TokenTTL,
		Publisher:   publisher,
		Idempotency: idem,
		Metrics:     metrics.New(),
	})
}

// logOrderEvent is the consumer side of the order events: it records every
// event it receives. Undecodable messages are reported as errors.
func logOrderEvent(msg amqp.Delivery) error {
	var event struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return fmt.Errorf("decode %s event: %w", msg.RoutingKey, err)
	}
	if event.OrderID == "" {
		return errors.New("order event without order_id")
	}
	log.Info().Str("event", msg.RoutingKey).Str("order_id", event.OrderID).
		Uint64("delivery_tag", msg.DeliveryTag).RawJSON("payload", msg.Body).Msg("received order event")
	return nil
}

// seedProducts fills an empty catalog with demo products.
func seedProducts(ctx context.Context, productService *services.ProductService) {
	existing, err := productService.GetAllProducts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to check catalog before seeding")
		return
	}
	if len(existing) > 0 {
		log.Info().Int("products", len(existing)).Msg("catalog not empty, skipping demo data")
		return
	}

	products := []models.Product{
		{Name: "Laptop", Description: "High performance laptop", Price: decimal.RequireFromString("1200.00"), Stock: 10},
		{Name: "Keyboard", Description: "Mechanical keyboard", Price: decimal.RequireFromString("75.00"), Stock: 25},
		{Name: "Mouse", Description: "Ergonomic wireless mouse", Price: decimal.RequireFromString("25.00"), Stock: 50},
	}
	for i := range products {
		if err := productService.CreateProduct(ctx, &products[i]); err != nil {
			log.Error().Err(err).Str("name", products[i].Name).Msg("error seeding product")
		}
	}
}
