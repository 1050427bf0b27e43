package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/modularcrm/syncqueue/internal/repo"
	"go.uber.org/zap"
)

// Bus is the producer side of the queue. Delivery is fully decoupled:
// Broadcast only performs one durable insert, no recipient runs inline.
type Bus struct {
	repo        repo.RepositoryInterface
	maxAttempts int
	log         *zap.SugaredLogger
}

// NewBus returns Bus. maxAttempts is stamped onto every message.
func NewBus(r repo.RepositoryInterface, maxAttempts int, logger *zap.SugaredLogger) *Bus {
	return &Bus{repo: r, maxAttempts: maxAttempts, log: logger}
}

// Broadcast enqueues a payload. An optional queue override wins over the
// payload's declared default queue and the payload type tag.
func (b *Bus) Broadcast(ctx context.Context, payload Payload, queue ...string) (uint64, error) {
	return b.enqueue(ctx, payload, queueName(payload, queue...), nil)
}

// DelayedBroadcast enqueues a payload that becomes eligible after delay.
func (b *Bus) DelayedBroadcast(ctx context.Context, payload Payload, delay time.Duration) (uint64, error) {
	at := time.Now().UTC().Add(delay)
	return b.enqueue(ctx, payload, queueName(payload), &at)
}

func (b *Bus) enqueue(ctx context.Context, payload Payload, queue string, nextAttempt *time.Time) (uint64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("serialize payload %q: %w", payload.PayloadType(), err)
	}
	m := &model.Message{
		QueueName:     queue,
		PayloadType:   payload.PayloadType(),
		Payload:       string(body),
		NextAttemptAt: nextAttempt,
		AttemptCount:  0,
		MaxAttempts:   b.maxAttempts,
		Status:        model.StatusPending,
	}
	if err := b.repo.CreateMessage(ctx, m); err != nil {
		return 0, fmt.Errorf("enqueue on %q: %w", queue, err)
	}
	if err := b.repo.NotifyEnqueued(ctx, queue); err != nil {
		b.log.Warnf("notify enqueued on %q: %v", queue, err)
	}
	return m.ID, nil
}

func queueName(payload Payload, override ...string) string {
	if len(override) > 0 && override[0] != "" {
		return override[0]
	}
	if qn, ok := payload.(QueueNamer); ok {
		return qn.DefaultQueue()
	}
	return payload.PayloadType()
}
