package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EnqueuedChannel is the redis pub/sub channel that wakes the processor
// whenever a message is written to the store.
const EnqueuedChannel = "syncqueue:enqueued"

// ErrStatusConflict is returned when a guarded status transition matches no row,
// i.e. the message moved (or was removed) underneath us.
var ErrStatusConflict = errors.New("message status conflict")

// ErrNotRequeueable is returned when an operator requeue targets a message
// that is missing or already completed.
var ErrNotRequeueable = errors.New("message not found or already completed")

// RepositoryInterface restricts Repo methods (eases unit test mocks)
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id uint64) (*model.Message, error)
	ListMessages(ctx context.Context, status model.MessageStatus, queue string, limit int) ([]model.Message, error)
	ListEligible(ctx context.Context, now time.Time) ([]model.Message, error)
	MarkProcessing(ctx context.Context, id uint64, attempt int) error
	MarkCompleted(ctx context.Context, id uint64) error
	MarkFailed(ctx context.Context, id uint64, attempt int, lastErr string, nextAttempt time.Time) error
	MarkDeadLettered(ctx context.Context, id uint64, attempt int, lastErr string) error
	RequeueMessage(ctx context.Context, id uint64) error
	NotifyEnqueued(ctx context.Context, queue string) error
	WatchEnqueued(ctx context.Context) <-chan struct{}
	PublishDeadLetter(ctx context.Context, m model.Message) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreateMessage durably inserts one message row.
func (r *Repository) CreateMessage(ctx context.Context, m *model.Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// GetMessage loads a single message by id.
func (r *Repository) GetMessage(ctx context.Context, id uint64) (*model.Message, error) {
	var m model.Message
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages is the operator query; empty status/queue match everything.
func (r *Repository) ListMessages(ctx context.Context, status model.MessageStatus, queue string, limit int) ([]model.Message, error) {
	q := r.db.WithContext(ctx).Model(&model.Message{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if queue != "" {
		q = q.Where("queue_name = ?", queue)
	}
	var msgs []model.Message
	err := q.Order("created_at").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// ListEligible returns messages due for processing, oldest first.
func (r *Repository) ListEligible(ctx context.Context, now time.Time) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			[]model.MessageStatus{model.StatusPending, model.StatusFailed}, now).
		Order("created_at").
		Find(&msgs).Error
	return msgs, err
}

// MarkProcessing claims a message for an attempt. The guard on the prior
// status keeps a stale pass from re-claiming an in-flight or terminal row.
func (r *Repository) MarkProcessing(ctx context.Context, id uint64, attempt int) error {
	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND status IN ?", id,
			[]model.MessageStatus{model.StatusPending, model.StatusFailed}).
		Updates(map[string]interface{}{
			"status":        model.StatusProcessing,
			"attempt_count": attempt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkCompleted stamps the terminal success state.
func (r *Repository) MarkCompleted(ctx context.Context, id uint64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.StatusCompleted,
			"completed_at": &now,
		}).Error
}

// MarkFailed records a failed attempt and schedules the retry.
func (r *Repository) MarkFailed(ctx context.Context, id uint64, attempt int, lastErr string, nextAttempt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          model.StatusFailed,
			"attempt_count":   attempt,
			"last_error":      lastErr,
			"next_attempt_at": &nextAttempt,
		}).Error
}

// MarkDeadLettered stamps the terminal failure state.
func (r *Repository) MarkDeadLettered(ctx context.Context, id uint64, attempt int, lastErr string) error {
	return r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.StatusDeadLettered,
			"attempt_count": attempt,
			"last_error":    lastErr,
		}).Error
}

// RequeueMessage resets a stuck or dead-lettered message to PENDING.
// Completed messages stay completed.
func (r *Repository) RequeueMessage(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND status IN ?", id, []model.MessageStatus{
			model.StatusProcessing, model.StatusFailed, model.StatusDeadLettered,
		}).
		Updates(map[string]interface{}{
			"status":          model.StatusPending,
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotRequeueable
	}
	return nil
}

// NotifyEnqueued bumps the processor wake channel. Best effort: the
// fallback poll covers dropped notifications.
func (r *Repository) NotifyEnqueued(ctx context.Context, queue string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Publish(ctx, EnqueuedChannel, queue).Err()
}

// WatchEnqueued subscribes to store-change notifications. The returned
// channel closes when ctx is done; a nil redis client yields a channel
// that never fires, leaving the fallback poll as the only wake source.
func (r *Repository) WatchEnqueued(ctx context.Context) <-chan struct{} {
	if r.rdb == nil {
		return nil
	}
	sub := r.rdb.Subscribe(ctx, EnqueuedChannel)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out
}

// deadLetterRecord is what operators see on the kafka stream.
type deadLetterRecord struct {
	MessageID    uint64 `json:"message_id"`
	QueueName    string `json:"queue_name"`
	PayloadType  string `json:"payload_type"`
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error"`
}

// PublishDeadLetter sends a dead-lettered message to the kafka stream.
func (r *Repository) PublishDeadLetter(ctx context.Context, m model.Message) error {
	if r.writer == nil {
		return nil
	}
	payload, err := json.Marshal(deadLetterRecord{
		MessageID:    m.ID,
		QueueName:    m.QueueName,
		PayloadType:  m.PayloadType,
		AttemptCount: m.AttemptCount,
		LastError:    m.LastError,
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(m.QueueName),
		Value: payload,
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}
