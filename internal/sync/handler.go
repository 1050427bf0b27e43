package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/modularcrm/syncqueue/internal/pipeline"
	"github.com/modularcrm/syncqueue/internal/repo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler applies inbound sync actions on the owning module. Every write
// is committed through the save pipeline, never as a raw store write, so
// lifecycle hooks run for replicated writes exactly as for local ones.
type Handler struct {
	entities *EntitySet
	pipe     *pipeline.Pipeline
	repo     repo.RepositoryInterface
	log      *zap.SugaredLogger
}

func NewHandler(entities *EntitySet, pipe *pipeline.Pipeline, r repo.RepositoryInterface, logger *zap.SugaredLogger) *Handler {
	return &Handler{entities: entities, pipe: pipe, repo: r, log: logger}
}

// Apply processes a batch with per-action isolation: one action's failure
// is recorded in its result row and never aborts its siblings. Results
// come back in input order.
func (h *Handler) Apply(ctx context.Context, req Request) []ActionResult {
	results := make([]ActionResult, 0, len(req.Actions))
	for _, action := range req.Actions {
		res := ActionResult{Collection: action.Collection, DocumentID: action.DocumentID, Success: true}
		if err := h.applyAction(ctx, action, &res); err != nil {
			res.Success = false
			res.Error = err.Error()
			h.log.Warnf("sync action %s on %q from %q failed: %v",
				action.ActionType, action.Collection, req.RequestingModule, err)
		}
		results = append(results, res)
	}
	return results
}

func (h *Handler) applyAction(ctx context.Context, action Action, res *ActionResult) error {
	switch action.ActionType {
	case ActionInsert, ActionUpdate:
		if len(action.Data) == 0 {
			return errors.New("data is required for insert and update actions")
		}
		id, err := h.ApplySave(ctx, action.Collection, action.DocumentID, action.Data, action.Properties)
		if err != nil {
			return err
		}
		res.DocumentID = &id
		return nil
	case ActionDelete:
		if action.DocumentID == nil {
			return errors.New("documentId is required for delete actions")
		}
		return h.ApplyDelete(ctx, action.Collection, *action.DocumentID)
	default:
		return fmt.Errorf("unknown action type %q", action.ActionType)
	}
}

// ApplySave merges or replaces the authoritative record and commits it
// through the pipeline. With a document id and a non-empty property list
// only the named properties of the incoming data touch the existing
// record; otherwise the data is deserialized verbatim into a fresh
// instance (insert or full replace).
func (h *Handler) ApplySave(ctx context.Context, collection string, documentID *uint64, data json.RawMessage, properties []string) (uint64, error) {
	factory, err := h.entities.Resolve(collection)
	if err != nil {
		return 0, err
	}

	var rec Entity
	if documentID != nil && len(properties) > 0 {
		existing := factory()
		if err := h.repo.DB(ctx).First(existing, *documentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("document %d not found in %q", *documentID, collection)
			}
			return 0, err
		}
		if rec, err = mergeDocument(existing, data, properties, factory); err != nil {
			return 0, err
		}
	} else {
		rec = factory()
		if documentID != nil {
			if data, err = withDocumentID(data, *documentID); err != nil {
				return 0, err
			}
		}
		if err := json.Unmarshal(data, rec); err != nil {
			return 0, fmt.Errorf("decode %q document: %w", collection, err)
		}
	}

	out, err := h.pipe.Save(ctx, rec)
	if err != nil {
		return 0, err
	}
	switch out.State {
	case pipeline.Saved:
		return out.DocumentID, nil
	case pipeline.NeedsConfirmation:
		// A replicated write has no interactive caller to answer the step.
		return 0, fmt.Errorf("save requires confirmation at step %q", out.Step)
	default:
		return 0, fmt.Errorf("save rejected: %s", out.Reason)
	}
}

// ApplyDelete loads the authoritative record and deletes it through the
// pipeline so pre-delete checks still run.
func (h *Handler) ApplyDelete(ctx context.Context, collection string, documentID uint64) error {
	factory, err := h.entities.Resolve(collection)
	if err != nil {
		return err
	}
	existing := factory()
	if err := h.repo.DB(ctx).First(existing, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("document %d not found in %q", documentID, collection)
		}
		return err
	}
	out, err := h.pipe.Delete(ctx, existing)
	if err != nil {
		return err
	}
	if out.State != pipeline.Deleted {
		return fmt.Errorf("delete rejected: %s", out.Reason)
	}
	return nil
}

// withDocumentID overlays the id onto a full-replace document so an
// update without a property list still targets the right row.
func withDocumentID(data json.RawMessage, id uint64) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode incoming data: %w", err)
	}
	doc["id"] = json.RawMessage(strconv.FormatUint(id, 10))
	return json.Marshal(doc)
}
