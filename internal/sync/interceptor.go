package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/modularcrm/syncqueue/internal/bus"
	"go.uber.org/zap"
)

// ReplicaInfo is the replication metadata a replicated entity type
// declares: who owns the authoritative copy and under which collection.
type ReplicaInfo struct {
	OwnerModule string
	Collection  string
}

// ErrNotReplicated means the collection carries no replication metadata,
// or this module owns it. A programming error at the call site, raised
// immediately rather than retried.
var ErrNotReplicated = errors.New("collection is not replicated")

// Publisher is the slice of the message bus the interceptor needs.
type Publisher interface {
	Broadcast(ctx context.Context, payload bus.Payload, queue ...string) (uint64, error)
}

// Interceptor wraps entity writes on non-owning modules into sync
// actions and dispatches them to the owning module via the bus.
type Interceptor struct {
	bus    Publisher
	module string
	log    *zap.SugaredLogger

	mu gosync.RWMutex
	// nil entries are cached negative lookups.
	infos map[string]*ReplicaInfo
}

func NewInterceptor(p Publisher, moduleName string, logger *zap.SugaredLogger) *Interceptor {
	return &Interceptor{
		bus:    p,
		module: moduleName,
		log:    logger,
		infos:  make(map[string]*ReplicaInfo),
	}
}

// Register declares replication metadata for a collection. Call at
// startup for every entity type that carries metadata; entities this
// module owns are registered too and filtered at lookup time.
func (i *Interceptor) Register(info ReplicaInfo) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.infos[info.Collection] = &ReplicaInfo{OwnerModule: info.OwnerModule, Collection: info.Collection}
}

// IsReplicated reports whether writes to a collection must be forwarded
// instead of applied locally.
func (i *Interceptor) IsReplicated(collection string) bool {
	return i.lookup(collection) != nil
}

func (i *Interceptor) lookup(collection string) *ReplicaInfo {
	i.mu.RLock()
	info, known := i.infos[collection]
	i.mu.RUnlock()
	if !known {
		// Cache the miss so repeated lookups of non-replicated
		// collections stay one map read.
		i.mu.Lock()
		i.infos[collection] = nil
		i.mu.Unlock()
		return nil
	}
	if info != nil && info.OwnerModule == i.module {
		// We hold the authoritative copy; local writes apply locally.
		return nil
	}
	return info
}

// HandleSave forwards an entity write to the owning module. documentID
// nil means insert. changed carries explicit value-changed flags; when
// the caller tracks none, the properties default to the full field set of
// the (narrower, projected) replicated type.
func (i *Interceptor) HandleSave(ctx context.Context, entity Entity, documentID *uint64, changed []string) error {
	collection := entity.TableName()
	info := i.lookup(collection)
	if info == nil {
		return fmt.Errorf("%w: %q", ErrNotReplicated, collection)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("serialize %q document: %w", collection, err)
	}

	action := Action{
		ActionType: ActionInsert,
		Collection: collection,
		Data:       data,
	}
	if documentID != nil {
		action.ActionType = ActionUpdate
		action.DocumentID = documentID
		props := changed
		if len(props) == 0 {
			if props, err = documentProperties(data); err != nil {
				return fmt.Errorf("derive changed properties for %q: %w", collection, err)
			}
		}
		action.Properties = props
	}
	return i.dispatch(ctx, info, action)
}

// HandleDelete forwards an entity delete to the owning module.
func (i *Interceptor) HandleDelete(ctx context.Context, collection string, documentID uint64) error {
	info := i.lookup(collection)
	if info == nil {
		return fmt.Errorf("%w: %q", ErrNotReplicated, collection)
	}
	id := documentID
	return i.dispatch(ctx, info, Action{
		ActionType: ActionDelete,
		Collection: collection,
		DocumentID: &id,
	})
}

func (i *Interceptor) dispatch(ctx context.Context, info *ReplicaInfo, action Action) error {
	msg := DeploymentMessage{
		OwnerModule: info.OwnerModule,
		Request: Request{
			RequestingModule: i.module,
			Actions:          []Action{action},
		},
	}
	id, err := i.bus.Broadcast(ctx, msg, QueuePrefix+action.Collection)
	if err != nil {
		return err
	}
	i.log.Infof("queued %s of %q for module %q as message %d",
		action.ActionType, action.Collection, info.OwnerModule, id)
	return nil
}
