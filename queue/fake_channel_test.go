package queue

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeChannel is a minimal in-memory stand-in for *amqp.Channel, covering
// exactly the methods amqpChannel declares, so the Adaptive Consumer's
// publish/subscribe/cancel behavior can be driven without a broker.
type fakeChannel struct {
	mu sync.Mutex

	deliveries chan amqp.Delivery

	published   []amqp.Publishing
	routingKeys []string
	canceled    []string
	qosPrefetch int
	queueDepth  int
}

func newFakeChannel(deliveries chan amqp.Delivery) *fakeChannel {
	return &fakeChannel{deliveries: deliveries}
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qosPrefetch = prefetchCount
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	f.routingKeys = append(f.routingKeys, key)
	return nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, consumer)
	return nil
}

func (f *fakeChannel) QueueInspect(name string) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return amqp.Queue{Name: name, Messages: f.queueDepth}, nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeChannel) snapshot() ([]amqp.Publishing, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pub := make([]amqp.Publishing, len(f.published))
	copy(pub, f.published)
	keys := make([]string, len(f.routingKeys))
	copy(keys, f.routingKeys)
	return pub, keys
}

// fakeAcker is a fake amqp.Acknowledger: it records every Ack so tests can
// confirm each delivery was settled exactly once (cardinality), without
// needing a live broker connection to produce a real Delivery.
type fakeAcker struct {
	mu     sync.Mutex
	acked  []uint64
	acksCh chan uint64
}

func newFakeAcker(buffer int) *fakeAcker {
	return &fakeAcker{acksCh: make(chan uint64, buffer)}
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.acked = append(a.acked, tag)
	a.mu.Unlock()
	a.acksCh <- tag
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error { return nil }
func (a *fakeAcker) Reject(tag uint64, requeue bool) error         { return nil }
