package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures          = 5
	openTimeout          = 30 * time.Second
	maxReconnectAttempts = 5

	// Routing keys on the direct exchange.
	RoutingKeyPayoutSync   = "payout.sync"
	RoutingKeyRunCompleted = "run.completed"
)

// Client publishes and consumes payroll events over AMQP. Publishing
// goes through a circuit breaker so a dead broker degrades to fast
// failures instead of blocking request handlers.
type Client struct {
	mu           sync.Mutex
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	url          string
	exchangeName string
	queueName    string

	failureCount int64
	state        int32
	lastFailure  time.Time
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.channel = channel

	return nil
}

func (c *Client) setup(channel *amqp091.Channel) error {
	// Durable direct exchange and queue; both survive broker restarts.
	if err := channel.ExchangeDeclare(c.exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := channel.QueueDeclare(c.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// One queue carries both event kinds, the routing key tells them apart
	for _, key := range []string{RoutingKeyPayoutSync, RoutingKeyRunCompleted} {
		if err := channel.QueueBind(c.queueName, key, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue: %w", err)
		}
	}

	return nil
}

func (c *Client) ensureConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.connect(); err == nil {
			slog.InfoContext(ctx, "Reconnected to AMQP broker", "attempt", attempt+1)
			return nil
		} else {
			slog.WarnContext(ctx, "AMQP reconnect failed",
				"attempt", attempt+1,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(exponentialBackoff(attempt)):
		}
	}

	return fmt.Errorf("reconnect failed after %d attempts", maxReconnectAttempts)
}

// exponentialBackoff returns the wait before the given retry attempt,
// starting at 1s and capped at 30s
func exponentialBackoff(attempt int) time.Duration {
	backoff := time.Second * time.Duration(1<<uint(attempt))
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// isConnectionError reports whether an error looks like a broken
// broker connection rather than a protocol or application error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"broken pipe",
		"eof",
		"closed network connection",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	if time.Since(c.lastFailure) > openTimeout {
		atomic.StoreInt32(&c.state, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	count := atomic.AddInt64(&c.failureCount, 1)
	c.lastFailure = time.Now()
	if count >= maxFailures {
		atomic.StoreInt32(&c.state, StateOpen)
		slog.Warn("AMQP circuit breaker opened",
			"failures", count,
			"open_timeout", openTimeout)
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: circuit breaker is open", routingKey)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.ensureConnection(ctx); err != nil {
		if isConnectionError(err) {
			c.recordFailure()
		}
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(pubCtx, c.exchangeName, routingKey, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		if isConnectionError(err) {
			c.recordFailure()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	return nil
}

// PublishPayoutSync publishes a payout mirror message
func (c *Client) PublishPayoutSync(ctx context.Context, id, runID int64) error {
	msg := NewPayoutSyncMessage(id, runID)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, RoutingKeyPayoutSync, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published payout sync message",
		"id", id,
		"run_id", runID,
		"exchange", c.exchangeName,
		"queue", c.queueName)

	return nil
}

// PublishRunCompleted publishes a schedule run completion event
func (c *Client) PublishRunCompleted(ctx context.Context, msg *RunCompletedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := c.publish(ctx, RoutingKeyRunCompleted, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Published run completed message",
		"run_id", msg.RunID,
		"year", msg.Year,
		"month", msg.Month,
		"exchange", c.exchangeName)

	return nil
}

// Consume delivers payroll events to the given handlers until ctx is
// done. Handler errors requeue the message, unparseable messages are
// dropped.
func (c *Client) Consume(ctx context.Context, payouts func(context.Context, *PayoutSyncMessage) error, runs func(context.Context, *RunCompletedMessage) error) error {
	// Manual acks; a failed handler requeues the delivery.
	msgs, err := c.channel.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming payroll events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Consumer shutting down", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}

			if err := c.dispatch(ctx, delivery, payouts, runs); err != nil {
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, delivery amqp091.Delivery, payouts func(context.Context, *PayoutSyncMessage) error, runs func(context.Context, *RunCompletedMessage) error) error {
	switch delivery.RoutingKey {
	case RoutingKeyPayoutSync:
		msg, err := PayoutSyncMessageFromJSON(delivery.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal payout sync message", "error", err)
			delivery.Nack(false, false) // reject and don't requeue
			return nil
		}
		if payouts == nil {
			return nil
		}
		if err := payouts(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to handle payout sync message",
				"error", err,
				"id", msg.ID,
				"run_id", msg.RunID)
			return err
		}
		slog.InfoContext(ctx, "Processed payout sync message",
			"id", msg.ID,
			"run_id", msg.RunID)
		return nil

	case RoutingKeyRunCompleted:
		msg, err := RunCompletedMessageFromJSON(delivery.Body)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to unmarshal run completed message", "error", err)
			delivery.Nack(false, false)
			return nil
		}
		if runs == nil {
			return nil
		}
		if err := runs(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to handle run completed message",
				"error", err,
				"run_id", msg.RunID)
			return err
		}
		slog.InfoContext(ctx, "Processed run completed message", "run_id", msg.RunID)
		return nil

	default:
		slog.WarnContext(ctx, "Dropping message with unknown routing key", "routing_key", delivery.RoutingKey)
		delivery.Nack(false, false)
		return nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
