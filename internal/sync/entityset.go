package sync

import (
	"errors"
	"fmt"
	gosync "sync"
)

// Entity is a storable record the sync handler can materialize. TableName
// is the gorm naming convention; it doubles as the collection name on the
// wire.
type Entity interface {
	GetID() uint64
	TableName() string
}

// EntityFactory builds a fresh, empty instance of one entity type.
type EntityFactory func() Entity

// ErrUnknownCollection means no registered entity type maps to the
// requested collection name.
var ErrUnknownCollection = errors.New("collection not found")

// EntitySet resolves collection names to entity types. Resolution scans
// the registered factories comparing each prototype's table name; the
// first match wins and is cached per collection.
type EntitySet struct {
	mu        gosync.RWMutex
	factories []EntityFactory
	resolved  map[string]EntityFactory
}

func NewEntitySet() *EntitySet {
	return &EntitySet{resolved: make(map[string]EntityFactory)}
}

// Register adds an entity type. Call at startup, before resolution.
func (s *EntitySet) Register(factory EntityFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories = append(s.factories, factory)
}

// Resolve returns the factory for a collection name.
func (s *EntitySet) Resolve(collection string) (EntityFactory, error) {
	s.mu.RLock()
	if f, ok := s.resolved[collection]; ok {
		s.mu.RUnlock()
		return f, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.resolved[collection]; ok {
		return f, nil
	}
	for _, f := range s.factories {
		if f().TableName() == collection {
			s.resolved[collection] = f
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
}
