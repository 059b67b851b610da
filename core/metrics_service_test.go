package core

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeInspector struct {
	messages, consumers int
	err                  error
}

func (f fakeInspector) InspectQueue(ctx context.Context, name string) (int, int, error) {
	return f.messages, f.consumers, f.err
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestMetricsServiceQueueWithNilInspector(t *testing.T) {
	svc := NewMetricsService(newTestRedis(t), nil, "submissions")
	qm, err := svc.Queue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qm != (QueueMetrics{}) {
		t.Fatalf("expected zero-value QueueMetrics, got %+v", qm)
	}
}

func TestMetricsServiceQueueDelegatesToInspector(t *testing.T) {
	svc := NewMetricsService(newTestRedis(t), fakeInspector{messages: 12, consumers: 3}, "submissions")
	qm, err := svc.Queue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qm.Messages != 12 || qm.Consumers != 3 {
		t.Fatalf("unexpected QueueMetrics: %+v", qm)
	}
}

func TestMetricsServiceWorkersRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	hb := WorkerHeartbeat{WorkerID: "w-1", Hostname: "host-a", Status: "idle"}
	if err := SaveHeartbeat(ctx, client, hb); err != nil {
		t.Fatalf("SaveHeartbeat: %v", err)
	}

	svc := NewMetricsService(client, nil, "submissions")

	got, err := svc.WorkerByID(ctx, "w-1")
	if err != nil {
		t.Fatalf("WorkerByID: %v", err)
	}
	if got.Hostname != "host-a" || got.Status != "idle" {
		t.Fatalf("unexpected heartbeat: %+v", got)
	}

	workers, err := svc.Workers(ctx)
	if err != nil {
		t.Fatalf("Workers: %v", err)
	}
	if len(workers) != 1 || workers[0].WorkerID != "w-1" {
		t.Fatalf("expected exactly one worker w-1, got %+v", workers)
	}
}

func TestMetricsServiceWorkerByIDMissing(t *testing.T) {
	svc := NewMetricsService(newTestRedis(t), nil, "submissions")
	if _, err := svc.WorkerByID(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing worker id")
	}
}
