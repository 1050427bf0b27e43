package processor

import (
	"context"
	"sync"
	"time"

	"github.com/modularcrm/syncqueue/internal/bus"
	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/modularcrm/syncqueue/internal/repo"
	"go.uber.org/zap"
)

// Processor is the consumer state machine: one long-lived loop per
// process. It wakes on store-change notifications or the fallback poll,
// selects the oldest eligible message per queue, and fans the selected
// messages out concurrently. Within one queue processing stays strictly
// FIFO because a queue never has two in-flight messages.
type Processor struct {
	repo     repo.RepositoryInterface
	registry *bus.Registry
	backoff  []time.Duration
	fallback time.Duration
	log      *zap.SugaredLogger
}

// Config carries the processor knobs.
type Config struct {
	BackoffDelays        []time.Duration
	FallbackPollInterval time.Duration
}

func New(r repo.RepositoryInterface, reg *bus.Registry, cfg Config, logger *zap.SugaredLogger) *Processor {
	backoff := cfg.BackoffDelays
	if len(backoff) == 0 {
		backoff = []time.Duration{5 * time.Second}
	}
	fallback := cfg.FallbackPollInterval
	if fallback <= 0 {
		fallback = 5 * time.Second
	}
	return &Processor{
		repo:     r,
		registry: reg,
		backoff:  backoff,
		fallback: fallback,
		log:      logger,
	}
}

// Run blocks until ctx is cancelled. A cancellation observed at the wait
// step exits cleanly; one observed mid-batch surfaces from in-flight work
// and is swallowed here rather than recorded as message failure.
func (p *Processor) Run(ctx context.Context) error {
	notify := p.repo.WatchEnqueued(ctx)
	ticker := time.NewTicker(p.fallback)
	defer ticker.Stop()

	p.log.Infof("message processor started, fallback poll %s", p.fallback)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("message processor shutting down")
			return nil
		case <-notify:
		case <-ticker.C:
		}
		// Coalesce a burst of notifications into a single pass.
		drained := false
		for !drained {
			select {
			case <-notify:
			default:
				drained = true
			}
		}
		p.runPass(ctx)
	}
}

// runPass executes one processing pass: query eligible work, keep the
// single oldest message per queue, process the selection concurrently.
func (p *Processor) runPass(ctx context.Context) {
	msgs, err := p.repo.ListEligible(ctx, time.Now().UTC())
	if err != nil {
		p.log.Errorf("list eligible messages: %v", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	claimed := make(map[string]bool, len(msgs))
	selected := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if claimed[m.QueueName] {
			continue
		}
		claimed[m.QueueName] = true
		selected = append(selected, m)
	}

	var wg sync.WaitGroup
	for _, m := range selected {
		wg.Add(1)
		go func(m model.Message) {
			defer wg.Done()
			p.processMessage(ctx, m)
		}(m)
	}
	wg.Wait()
}

func (p *Processor) processMessage(ctx context.Context, m model.Message) {
	attempt := m.AttemptCount + 1
	if err := p.repo.MarkProcessing(ctx, m.ID, attempt); err != nil {
		p.log.Warnf("claim message %d: %v", m.ID, err)
		return
	}

	payload, err := p.registry.Decode(m.PayloadType, []byte(m.Payload))
	if err != nil {
		// Unresolvable type or undecodable body: retrying cannot change
		// the outcome, dead-letter immediately.
		p.deadLetter(ctx, m, attempt, err)
		return
	}

	subs := p.registry.Subscriptions(m.PayloadType)
	if len(subs) == 0 {
		p.log.Infof("message %d on %q: no recipients for %q", m.ID, m.QueueName, m.PayloadType)
		p.complete(ctx, m)
		return
	}

	var handleErr error
	for _, sub := range subs {
		rec := sub.New()
		if handleErr = rec.Handle(ctx, payload); handleErr != nil {
			p.log.Warnf("message %d recipient %q: %v", m.ID, sub.Name, handleErr)
			break
		}
	}
	if handleErr == nil {
		p.complete(ctx, m)
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-handler. The row stays PROCESSING; operators can
		// requeue it. Not recorded as a failed attempt.
		return
	}

	if bus.IsPermanent(handleErr) {
		p.deadLetter(ctx, m, attempt, handleErr)
		return
	}
	if attempt >= m.MaxAttempts {
		p.deadLetter(ctx, m, attempt, handleErr)
		return
	}
	idx := attempt - 1
	if idx >= len(p.backoff) {
		idx = len(p.backoff) - 1
	}
	next := time.Now().UTC().Add(p.backoff[idx])
	if err := p.repo.MarkFailed(ctx, m.ID, attempt, handleErr.Error(), next); err != nil {
		p.log.Errorf("mark message %d failed: %v", m.ID, err)
		return
	}
	p.log.Infof("message %d on %q failed attempt %d/%d, retry at %s",
		m.ID, m.QueueName, attempt, m.MaxAttempts, next.Format(time.RFC3339))
}

func (p *Processor) complete(ctx context.Context, m model.Message) {
	if err := p.repo.MarkCompleted(ctx, m.ID); err != nil {
		p.log.Errorf("mark message %d completed: %v", m.ID, err)
	}
}

func (p *Processor) deadLetter(ctx context.Context, m model.Message, attempt int, cause error) {
	if err := p.repo.MarkDeadLettered(ctx, m.ID, attempt, cause.Error()); err != nil {
		p.log.Errorf("mark message %d dead-lettered: %v", m.ID, err)
		return
	}
	p.log.Warnf("message %d on %q dead-lettered after %d attempts: %v",
		m.ID, m.QueueName, attempt, cause)

	m.AttemptCount = attempt
	m.LastError = cause.Error()
	if err := p.repo.PublishDeadLetter(ctx, m); err != nil {
		p.log.Warnf("publish dead-letter event for message %d: %v", m.ID, err)
	}
}
