package model

import "time"

type MessageStatus string

const (
	StatusPending      MessageStatus = "PENDING"
	StatusProcessing   MessageStatus = "PROCESSING"
	StatusCompleted    MessageStatus = "COMPLETED"
	StatusFailed       MessageStatus = "FAILED"
	StatusDeadLettered MessageStatus = "DEAD_LETTERED"
)

// Message is one enqueued unit of work. It is created by the bus and
// mutated only by the processor. A message is eligible for processing
// iff Status is PENDING or FAILED and NextAttemptAt is nil or in the past.
type Message struct {
	ID            uint64        `gorm:"primaryKey"`
	QueueName     string        `gorm:"size:128;not null;index"`
	PayloadType   string        `gorm:"size:128;not null"`
	Payload       string        `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time     `gorm:"autoCreateTime;index"`
	NextAttemptAt *time.Time    `gorm:"index"`
	AttemptCount  int           `gorm:"not null;default:0"`
	MaxAttempts   int           `gorm:"not null"`
	Status        MessageStatus `gorm:"size:16;not null;index"`
	LastError     string
	CompletedAt   *time.Time
}

func (Message) TableName() string { return "message_queue" }

// Terminal reports whether no further transition may leave the status.
func (s MessageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLettered
}
