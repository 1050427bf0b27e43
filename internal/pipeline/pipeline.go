package pipeline

import (
	"context"
	"errors"

	"github.com/modularcrm/syncqueue/internal/repo"
	"go.uber.org/zap"
)

// Record is the minimal contract the pipeline needs from an entity.
type Record interface {
	GetID() uint64
}

// Optional lifecycle hooks. An entity implements the ones it needs;
// replicated writes run through these exactly as local writes do.
type BeforeSaver interface {
	BeforeSave(ctx context.Context) error
}

type AfterSaver interface {
	AfterSave(ctx context.Context) error
}

type BeforeDeleter interface {
	BeforeDelete(ctx context.Context) error
}

// State enumerates pipeline results.
type State string

const (
	Saved             State = "saved"
	Deleted           State = "deleted"
	NeedsConfirmation State = "needs_confirmation"
	Failed            State = "failed"
)

// Outcome is the explicit result of a save or delete. Hook rejections and
// confirmation steps are carried as values, not unwound as errors; the
// returned error is reserved for storage failures.
type Outcome struct {
	State      State
	DocumentID uint64
	Step       string
	Options    []string
	Reason     string
}

// ConfirmationError is returned by a BeforeSave hook that needs the
// caller to answer a confirmation step before the save can proceed.
type ConfirmationError struct {
	Step    string
	Options []string
}

func (e *ConfirmationError) Error() string {
	return "confirmation required at step " + e.Step
}

// Pipeline commits entities through their lifecycle hooks.
type Pipeline struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func New(r repo.RepositoryInterface, logger *zap.SugaredLogger) *Pipeline {
	return &Pipeline{repo: r, log: logger}
}

// Save runs BeforeSave, persists the record (insert or update by primary
// key), then runs AfterSave. AfterSave errors are logged, not fatal: the
// write is already durable by then.
func (p *Pipeline) Save(ctx context.Context, rec Record) (Outcome, error) {
	if hook, ok := rec.(BeforeSaver); ok {
		if err := hook.BeforeSave(ctx); err != nil {
			var conf *ConfirmationError
			if errors.As(err, &conf) {
				return Outcome{State: NeedsConfirmation, Step: conf.Step, Options: conf.Options}, nil
			}
			return Outcome{State: Failed, Reason: err.Error()}, nil
		}
	}
	if err := p.repo.DB(ctx).Save(rec).Error; err != nil {
		return Outcome{}, err
	}
	if hook, ok := rec.(AfterSaver); ok {
		if err := hook.AfterSave(ctx); err != nil {
			p.log.Warnf("after-save hook for document %d: %v", rec.GetID(), err)
		}
	}
	return Outcome{State: Saved, DocumentID: rec.GetID()}, nil
}

// Delete runs BeforeDelete on the loaded record, then removes it.
func (p *Pipeline) Delete(ctx context.Context, rec Record) (Outcome, error) {
	if hook, ok := rec.(BeforeDeleter); ok {
		if err := hook.BeforeDelete(ctx); err != nil {
			return Outcome{State: Failed, Reason: err.Error()}, nil
		}
	}
	if err := p.repo.DB(ctx).Delete(rec).Error; err != nil {
		return Outcome{}, err
	}
	return Outcome{State: Deleted, DocumentID: rec.GetID()}, nil
}
