package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Payload is anything that can ride the message queue. The type tag is
// the stable identifier messages are stored and dispatched by.
type Payload interface {
	PayloadType() string
}

// QueueNamer lets a payload type declare its default queue. Absent this,
// the payload type tag doubles as the queue name.
type QueueNamer interface {
	DefaultQueue() string
}

// Recipient handles a due message. Recipients are constructed fresh per
// invocation so no state leaks across messages.
type Recipient interface {
	Handle(ctx context.Context, payload Payload) error
}

// DecodeFunc turns a stored payload body back into its typed form.
type DecodeFunc func(data []byte) (Payload, error)

// RecipientFactory builds one recipient instance.
type RecipientFactory func() Recipient

// Subscription pairs a recipient factory with its registered name.
type Subscription struct {
	Name string
	New  RecipientFactory
}

// ErrUnknownPayloadType means the stored type tag has no registered
// decoder. Retrying cannot fix it, so the processor dead-letters.
var ErrUnknownPayloadType = errors.New("unknown payload type")

// PermanentError marks a handler failure that retrying cannot change.
// The processor dead-letters the message immediately instead of
// scheduling a retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err with the no-retry marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries the no-retry marker.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Registry maps payload type tags to decoders and recipient factories.
// Registration happens at startup, before the processor runs.
type Registry struct {
	mu         sync.RWMutex
	decoders   map[string]DecodeFunc
	recipients map[string][]Subscription
}

func NewRegistry() *Registry {
	return &Registry{
		decoders:   make(map[string]DecodeFunc),
		recipients: make(map[string][]Subscription),
	}
}

// RegisterPayload installs the decoder for a payload type tag.
// Registering the same tag twice keeps the first decoder.
func (r *Registry) RegisterPayload(tag string, dec DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[tag]; ok {
		return
	}
	r.decoders[tag] = dec
}

// Subscribe registers a named recipient for a payload type. Duplicate
// (tag, name) registrations are a no-op.
func (r *Registry) Subscribe(tag, name string, factory RecipientFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.recipients[tag] {
		if s.Name == name {
			return
		}
	}
	r.recipients[tag] = append(r.recipients[tag], Subscription{Name: name, New: factory})
}

// Decode resolves the runtime type for a tag and deserializes the body.
func (r *Registry) Decode(tag string, data []byte) (Payload, error) {
	r.mu.RLock()
	dec, ok := r.decoders[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadType, tag)
	}
	return dec(data)
}

// Subscriptions returns the recipients for a tag in registration order.
// Unknown tags yield an empty slice, never nil.
func (r *Registry) Subscriptions(tag string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := r.recipients[tag]
	out := make([]Subscription, len(subs))
	copy(out, subs)
	return out
}
