package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"fintrack/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
	dialTimeout    = 2 * time.Second
	heartbeat      = 10 * time.Second
)

// ErrCircuitOpen is returned by publish calls while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrNotConnected is returned while the broker connection is being restored.
var ErrNotConnected = errors.New("not connected to AMQP broker")

type Client struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger
	dial         func(url string) (*amqp091.Connection, error)

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	done         chan struct{}
	closeOnce    sync.Once
	reconnecting int32

	failureCount int64
	state        int32
	lastFailure  time.Time
}

// NewClient connects and declares the exchange and queue. Later connection
// losses are repaired in the background; callers never wait on a redial.
func NewClient(url, exchangeName, queueName string, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.WithComponent(log.ComponentAMQP),
		dial:         dialBounded,
		done:         make(chan struct{}),
	}

	closed, err := client.connect()
	if err != nil {
		return nil, err
	}
	go client.watch(closed)
	return client, nil
}

func dialBounded(url string) (*amqp091.Connection, error) {
	return amqp091.DialConfig(url, amqp091.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp091.DefaultDial(dialTimeout),
	})
}

// connect dials without holding c.mu and installs the new connection. The
// returned channel fires when the broker drops it.
func (c *Client) connect() (chan *amqp091.Error, error) {
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		channel.Close()
		conn.Close()
		return nil, ErrNotConnected
	default:
	}
	c.closeLocked()
	c.conn = conn
	c.channel = channel
	return closed, nil
}

// watch waits for the connection to drop and starts a reconnect.
func (c *Client) watch(closed chan *amqp091.Error) {
	select {
	case <-c.done:
		return
	case amqpErr := <-closed:
		select {
		case <-c.done:
			return
		default:
		}
		c.logger.Warn("AMQP connection lost", log.FieldError, amqpErr)
		c.triggerReconnect()
	}
}

// triggerReconnect starts the reconnect loop unless one is already running.
func (c *Client) triggerReconnect() {
	if !atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		return
	}
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-c.done:
				atomic.StoreInt32(&c.reconnecting, 0)
				return
			case <-time.After(exponentialBackoff(attempt - 1)):
			}
		}
		closed, err := c.connect()
		if err == nil {
			c.logger.Info("Reconnected to AMQP broker", "attempt", attempt+1)
			atomic.StoreInt32(&c.reconnecting, 0)
			go c.watch(closed)
			return
		}
		if errors.Is(err, ErrNotConnected) {
			atomic.StoreInt32(&c.reconnecting, 0)
			return
		}
		c.logger.Warn("AMQP reconnect failed", "attempt", attempt+1, log.FieldError, err)
	}
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// routing key is the queue name on a direct exchange
	err = ch.QueueBind(queueName, queueName, exchangeName, false, nil)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// currentChannel returns the open channel, or ErrNotConnected after
// scheduling a background reconnect.
func (c *Client) currentChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil && !ch.IsClosed() {
		return ch, nil
	}
	c.triggerReconnect()
	return nil, ErrNotConnected
}

// PublishLedgerEvent publishes evt as a persistent JSON message.
func (c *Client) PublishLedgerEvent(ctx context.Context, evt *LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", evt.Type(), ErrCircuitOpen)
	}

	body, err := evt.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ch, err := c.currentChannel()
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish %s: %w", evt.Type(), err)
	}

	err = ch.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    evt.ID,
			Type:         evt.Type(),
			Timestamp:    evt.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.mu.Lock()
			c.closeLocked()
			c.mu.Unlock()
			c.triggerReconnect()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published ledger event",
		log.FieldEventID, evt.ID,
		log.FieldEventType, evt.Type(),
		log.FieldEntityID, evt.EntityID)
	return nil
}

// Handler processes one decoded ledger event.
type Handler func(ctx context.Context, evt *LedgerEvent) error

// ConsumeLedgerEvents blocks delivering events to handler until ctx is
// cancelled or the broker closes the channel. Undecodable messages are
// dropped; handler failures are requeued.
func (c *Client) ConsumeLedgerEvents(ctx context.Context, handler Handler) error {
	ch, err := c.currentChannel()
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Started consuming ledger events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler Handler) {
	evt, err := LedgerEventFromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to decode ledger event", log.FieldError, err)
		if err := d.Nack(false, false); err != nil {
			c.logger.ErrorContext(ctx, "Failed to nack message", log.FieldError, err)
		}
		return
	}

	logger := c.logger.With(log.FieldEventID, evt.ID, log.FieldEventType, evt.Type(), log.FieldEntityID, evt.EntityID)
	if err := handler(log.NewContext(ctx, logger), evt); err != nil {
		logger.ErrorContext(ctx, "Failed to handle ledger event", log.FieldError, err)
		if err := d.Nack(false, true); err != nil {
			logger.ErrorContext(ctx, "Failed to requeue message", log.FieldError, err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		logger.ErrorContext(ctx, "Failed to ack message", log.FieldError, err)
		return
	}
	logger.InfoContext(ctx, "Processed ledger event")
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	// a failed probe in half-open reopens immediately
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			c.logger.Warn("AMQP circuit breaker opened", "failures", atomic.LoadInt64(&c.failureCount))
		}
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "eof", "broken pipe", "closed network connection", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close stops reconnecting and closes the connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.done != nil {
			close(c.done)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.channel != nil {
			c.channel.Close()
			c.channel = nil
		}
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
	})
	return err
}
