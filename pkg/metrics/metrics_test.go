package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"shopcore/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareAndHandler(t *testing.T) {
	m := metrics.New()
	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/orders/:id", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	app.Get("/metrics", m.Handler())

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/orders/abc", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	m.OrderCreated()
	m.OrderTransitioned("pending", "cancelled")
	m.StockRejected()
	m.StockReleased(3)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `shopcore_http_requests_total{method="GET",route="/orders/:id",status="204"} 2`)
	assert.Contains(t, text, "shopcore_orders_created_total 1")
	assert.Contains(t, text, `shopcore_order_transitions_total{from="pending",to="cancelled"} 1`)
	assert.Contains(t, text, "shopcore_stock_reservation_rejections_total 1")
	assert.Contains(t, text, "shopcore_stock_units_released_total 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.OrderCreated()
		m.OrderTransitioned("a", "b")
		m.StockRejected()
		m.StockReleased(1)
	})

	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
