// Package events publishes committed job changes to Redis pub/sub so other
// processes can follow job progress.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dancegen/api/internal/model"
	"github.com/dancegen/api/internal/registry"
)

const (
	EventJobUpdated = "job.updated"
	EventJobDeleted = "job.deleted"

	queueSize      = 1024
	publishTimeout = 2 * time.Second
)

// JobEvent is the message published for every committed change
type JobEvent struct {
	Type string    `json:"type"`
	Job  model.Job `json:"job"`
	At   time.Time `json:"at"`
}

// Publisher is the subset of *redis.Client used by the sink
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink is a registry.Sink that forwards events to a Redis channel from
// its own goroutine.
type RedisSink struct {
	pub     Publisher
	channel string
	queue   chan []byte
	logger  *zap.Logger
}

func NewRedisSink(pub Publisher, channel string, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		pub:     pub,
		channel: channel,
		queue:   make(chan []byte, queueSize),
		logger:  logger,
	}
}

// Publish implements registry.Sink and never blocks.
func (s *RedisSink) Publish(ev registry.Event) {
	typ := EventJobUpdated
	if ev.Deleted {
		typ = EventJobDeleted
	}
	data, err := json.Marshal(JobEvent{Type: typ, Job: ev.Job, At: time.Now()})
	if err != nil {
		s.logger.Warn("failed to marshal job event", zap.String("job_id", ev.Job.ID), zap.Error(err))
		return
	}

	select {
	case s.queue <- data:
	default:
		s.logger.Warn("job event queue full, dropping event", zap.String("job_id", ev.Job.ID))
	}
}

// Run forwards queued events until ctx is cancelled.
func (s *RedisSink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.queue:
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := s.pub.Publish(pubCtx, s.channel, data).Err(); err != nil {
				s.logger.Warn("failed to publish job event", zap.String("channel", s.channel), zap.Error(err))
			}
			cancel()
		}
	}
}
