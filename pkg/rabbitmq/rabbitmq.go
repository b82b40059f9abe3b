package rabbitmq

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	amqp "github.com/streadway/amqp"
	"go.uber.org/multierr"
)

const (
	// Exchange is the topic exchange every order event is published to.
	Exchange = "orders"
	// EventsQueue collects all order events for the in-process consumer.
	EventsQueue = "order_events"
	// RoutingPattern binds EventsQueue to every order routing key.
	RoutingPattern = "order.#"
)

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	// amqp channels are not safe for concurrent publishing.
	mu sync.Mutex
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient connects to RabbitMQ, declares the order exchange and binds the
// events queue to it.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		return nil, multierr.Combine(err, ch.Close(), conn.Close())
	}

	log.Info().Str("exchange", Exchange).Str("queue", EventsQueue).Msg("RabbitMQ client connected")

	return &Client{
		conn:    conn,
		channel: ch,
	}, nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", Exchange, err)
	}

	if _, err := ch.QueueDeclare(
		EventsQueue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", EventsQueue, err)
	}

	if err := ch.QueueBind(EventsQueue, RoutingPattern, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", EventsQueue, err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (c *Client) Close() error {
	var err error
	if c.channel != nil {
		err = multierr.Append(err, c.channel.Close())
	}
	if c.conn != nil {
		err = multierr.Append(err, c.conn.Close())
	}
	if err != nil {
		return fmt.Errorf("failed to close RabbitMQ client: %w", err)
	}
	return nil
}

// Publish sends a persistent JSON message to the order exchange.
func (c *Client) Publish(routingKey string, body []byte) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.channel.Publish(
		Exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

// ConsumeOrderEvents delivers every message on the events queue to handler
// in a background goroutine. A handler error requeues the message once; a
// redelivered message that fails again is dropped.
func (c *Client) ConsumeOrderEvents(handler func(msg amqp.Delivery) error) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	msgs, err := c.channel.Consume(
		EventsQueue, // queue
		"",          // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			HandleDelivery(msg, handler)
		}
		log.Info().Msg("order event consumer stopped")
	}()

	return nil
}

// Acknowledger is the part of amqp.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// HandleDelivery runs handler on msg and settles it.
func HandleDelivery(msg amqp.Delivery, handler func(msg amqp.Delivery) error) {
	settle(msg, msg.Redelivered, handler(msg), msg.DeliveryTag)
}

func settle(ack Acknowledger, redelivered bool, handlerErr error, tag uint64) {
	if handlerErr == nil {
		if err := ack.Ack(false); err != nil {
			log.Error().Err(err).Uint64("delivery_tag", tag).Msg("failed to ack message")
		}
		return
	}

	log.Error().Err(handlerErr).Uint64("delivery_tag", tag).Bool("redelivered", redelivered).Msg("failed to process order event")
	if err := ack.Nack(false, !redelivered); err != nil {
		log.Error().Err(err).Uint64("delivery_tag", tag).Msg("failed to nack message")
	}
}
