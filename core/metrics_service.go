package core

import (
	"context"
	"encoding/json"
)

// QueueMetrics is the current depth of the submission queue.
type QueueMetrics struct {
	Messages  int `json:"messages"`
	Consumers int `json:"consumers"`
}

// QueueInspector abstracts a passive AMQP queue inspection (queue.declare
// with passive=true), so MetricsService does not need to import amqp091-go
// directly.
type QueueInspector interface {
	InspectQueue(ctx context.Context, name string) (messages, consumers int, err error)
}

// MetricsService aggregates queue depth (from the broker) and worker
// heartbeats (from Redis). This replaces the teacher's Redis-LLen-based
// queue metrics, since the job queue itself moved to AMQP; heartbeat
// lookups are unchanged.
type MetricsService struct {
	redis     RedisClientRaw
	inspector QueueInspector
	queueName string
}

func NewMetricsService(redis RedisClientRaw, inspector QueueInspector, queueName string) *MetricsService {
	return &MetricsService{redis: redis, inspector: inspector, queueName: queueName}
}

// Overview returns queue depth and all known worker heartbeats.
func (s *MetricsService) Overview(ctx context.Context) (QueueMetrics, []WorkerHeartbeat, error) {
	queue, err := s.Queue(ctx)
	if err != nil {
		return QueueMetrics{}, nil, err
	}
	workers, err := s.Workers(ctx)
	if err != nil {
		return queue, nil, err
	}
	return queue, workers, nil
}

// Queue returns the submission queue's current message and consumer count.
func (s *MetricsService) Queue(ctx context.Context) (QueueMetrics, error) {
	if s.inspector == nil {
		return QueueMetrics{}, nil
	}
	messages, consumers, err := s.inspector.InspectQueue(ctx, s.queueName)
	if err != nil {
		return QueueMetrics{}, err
	}
	return QueueMetrics{Messages: messages, Consumers: consumers}, nil
}

// Workers returns every heartbeat currently stored in Redis.
func (s *MetricsService) Workers(ctx context.Context) ([]WorkerHeartbeat, error) {
	iter := s.redis.Scan(ctx, 0, WorkerHeartbeatPrefix+"*", 100).Iterator()
	var res []WorkerHeartbeat
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := s.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var hb WorkerHeartbeat
		if err := json.Unmarshal([]byte(val), &hb); err != nil {
			continue
		}
		res = append(res, hb)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// WorkerByID returns a single worker's heartbeat.
func (s *MetricsService) WorkerByID(ctx context.Context, id string) (*WorkerHeartbeat, error) {
	val, err := s.redis.Get(ctx, WorkerHeartbeatKey(id)).Result()
	if err != nil {
		return nil, err
	}
	var hb WorkerHeartbeat
	if err := json.Unmarshal([]byte(val), &hb); err != nil {
		return nil, err
	}
	return &hb, nil
}
