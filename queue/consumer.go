// Package queue implements the Adaptive Consumer: it owns the AMQP broker
// connection, applies prefetch-based admission control, dispatches
// deliveries to a Handler with bounded concurrency, and publishes replies.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"judgeworker/core"
	"judgeworker/handler"
	"judgeworker/health"
)

// Config bounds the consumer's broker and health-sampling behavior.
type Config struct {
	Host, User, Pass string
	SubmissionQueue  string
	Prefetch         int // MAX_CONCURRENT_SUBMISSIONS

	AdaptiveMode     bool // open question #4: adaptive vs non-adaptive mode
	HealthThresholds health.Thresholds
	HealthInterval   time.Duration

	ConnectRetries int
	ConnectDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host: "localhost", User: "guest", Pass: "guest",
		SubmissionQueue:  "submission_queue",
		Prefetch:         4,
		HealthThresholds: health.DefaultThresholds(),
		HealthInterval:   5 * time.Second,
		ConnectRetries:   30,
		ConnectDelay:     2 * time.Second,
	}
}

// amqpChannel is the subset of *amqp.Channel the consumer calls, extracted
// so a fake broker channel can stand in for tests -- dialing a real
// RabbitMQ is not something a unit test should need.
type amqpChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Cancel(consumer string, noWait bool) error
	QueueInspect(name string) (amqp.Queue, error)
	Close() error
}

// Consumer is the Adaptive Consumer. It is not safe for concurrent use of
// its exported methods from more than one goroutine; Run owns it for its
// entire lifetime.
type Consumer struct {
	cfg     Config
	handler *handler.Handler

	conn    *amqp.Connection
	channel amqpChannel
	tag     string

	state  stateCell
	lastRd atomic.Value // health.Reading, owned by the health-sampling goroutine

	wg sync.WaitGroup
}

func New(cfg Config, h *handler.Handler) *Consumer {
	return &Consumer{cfg: cfg, handler: h}
}

// newConsumerWithChannel builds a Consumer around an already-open channel,
// skipping connect's dial/retry loop entirely. Used by tests to drive
// subscribe/handleDelivery/publish against a fake amqpChannel.
func newConsumerWithChannel(cfg Config, h *handler.Handler, ch amqpChannel) *Consumer {
	c := &Consumer{cfg: cfg, handler: h, channel: ch}
	c.state.store(Consuming)
	return c
}

// State reports the current lifecycle state, for the status HTTP endpoint.
func (c *Consumer) State() State { return c.state.load() }

// StateString implements core.ConsumerStateReporter.
func (c *Consumer) StateString() string { return c.state.load().String() }

// connect opens the broker connection and channel with a bounded,
// linearly-delayed retry loop, matching adaptive_consumer.py's start().
func (c *Consumer) connect(ctx context.Context) error {
	url := fmt.Sprintf("amqp://%s:%s@%s/", c.cfg.User, c.cfg.Pass, c.cfg.Host)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectRetries; attempt++ {
		log.Printf("[*] connecting to RabbitMQ (%d/%d)...", attempt, c.cfg.ConnectRetries)
		conn, err := amqp.DialConfig(url, amqp.Config{Heartbeat: 600 * time.Second})
		if err == nil {
			c.conn = conn
			log.Printf("[✓] connected to RabbitMQ at %s", c.cfg.Host)
			break
		}
		lastErr = err
		if attempt == c.cfg.ConnectRetries {
			return fmt.Errorf("could not connect to RabbitMQ after %d attempts: %w", attempt, lastErr)
		}
		log.Printf("[WARNING] retry in %s... (%v)", c.cfg.ConnectDelay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ConnectDelay):
		}
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	c.channel = ch

	if err := c.channel.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := c.channel.QueueDeclare(c.cfg.SubmissionQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare submission queue: %w", err)
	}

	return nil
}

// Run connects, consumes until ctx is canceled, drains in-flight
// deliveries, then closes the channel and connection. It returns nil on a
// clean shutdown and a non-nil error on unrecoverable broker failure,
// matching the spec's exit-code contract (0 clean, non-zero fatal).
func (c *Consumer) Run(ctx context.Context) error {
	c.state.store(Connecting)
	if err := c.connect(ctx); err != nil {
		return err
	}
	defer c.cleanup()

	if c.cfg.AdaptiveMode {
		go c.healthLoop(ctx)
	}

	if err := c.subscribe(); err != nil {
		return err
	}
	c.state.store(Consuming)
	log.Printf("[✓] consumer ready - processing up to %d submissions concurrently", c.cfg.Prefetch)

	<-ctx.Done()

	c.state.store(Draining)
	log.Printf("[*] draining: waiting for in-flight handlers...")
	if c.channel != nil && c.tag != "" {
		_ = c.channel.Cancel(c.tag, false)
	}
	c.wg.Wait()

	c.state.store(Closed)
	return nil
}

func (c *Consumer) subscribe() error {
	c.tag = fmt.Sprintf("judgeworker-%d", time.Now().UnixNano())
	deliveries, err := c.channel.Consume(c.cfg.SubmissionQueue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		for d := range deliveries {
			c.wg.Add(1)
			go func(d amqp.Delivery) {
				defer c.wg.Done()
				c.handleDelivery(d)
			}(d)
		}
	}()
	return nil
}

func (c *Consumer) handleDelivery(d amqp.Delivery) {
	retryCount := retryCountFromHeaders(d.Headers)

	decision := c.handler.Process(context.Background(), d.Body, retryCount)

	if decision.Requeue {
		headers := amqp.Table{}
		for k, v := range d.Headers {
			headers[k] = v
		}
		headers["x-retry-count"] = retryCount + 1
		if err := c.publish(context.Background(), c.cfg.SubmissionQueue, d.Body, headers, d.ReplyTo, d.CorrelationId); err != nil {
			log.Printf("[ERROR] failed to republish for retry: %v", err)
		} else {
			log.Printf("[↻] requeued message for retry (count=%d)", retryCount+1)
		}
	}

	if decision.Reply.SubmissionID != "" && d.ReplyTo != "" {
		if err := c.publishReply(context.Background(), decision.Reply, d.ReplyTo, d.CorrelationId); err != nil {
			log.Printf("[ERROR] failed to send response: %v", err)
		}
	}

	if err := d.Ack(false); err != nil {
		log.Printf("[ERROR] ack failed: %v", err)
	}
}

func (c *Consumer) publishReply(ctx context.Context, reply core.Reply, replyTo, correlationID string) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.publish(ctx, replyTo, body, nil, "", correlationID)
}

func (c *Consumer) publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table, replyTo, correlationID string) error {
	return c.channel.PublishWithContext(ctx, "", routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Headers:       headers,
		ReplyTo:       replyTo,
		CorrelationId: correlationID,
	})
}

func retryCountFromHeaders(headers amqp.Table) int {
	v, ok := headers["x-retry-count"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// healthLoop samples host health on an interval and pauses/resumes
// consumption. It is only started when AdaptiveMode is enabled.
func (c *Consumer) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r := health.Sample(ctx, c.cfg.HealthThresholds)
			c.lastRd.Store(r)

			if !r.Healthy && c.state.cas(Consuming, Paused) {
				log.Printf("[!] pausing consumption: %s", r.Reason)
				if c.tag != "" {
					_ = c.channel.Cancel(c.tag, false)
				}
			} else if r.Healthy && c.state.cas(Paused, Consuming) {
				log.Printf("[✓] host recovered, resuming consumption")
				if err := c.subscribe(); err != nil {
					log.Printf("[ERROR] failed to resume consumption: %v", err)
					c.state.store(Paused)
				}
			}
		}
	}
}

// LastHealth returns the most recent health reading, or a healthy zero
// value if adaptive mode is off or no sample has run yet.
func (c *Consumer) LastHealth() health.Reading {
	if v := c.lastRd.Load(); v != nil {
		return v.(health.Reading)
	}
	return health.Reading{Healthy: true}
}

func (c *Consumer) cleanup() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	log.Printf("[✓] consumer stopped cleanly.")
}

// InspectQueue implements core.QueueInspector via a passive queue declare,
// giving the status HTTP endpoint queue depth without going through Redis.
func (c *Consumer) InspectQueue(ctx context.Context, name string) (messages, consumers int, err error) {
	if c.channel == nil {
		return 0, 0, fmt.Errorf("consumer not connected")
	}
	q, err := c.channel.QueueInspect(name)
	if err != nil {
		return 0, 0, err
	}
	return q.Messages, q.Consumers, nil
}
