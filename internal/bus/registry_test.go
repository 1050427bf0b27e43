package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

type nopRecipient struct{}

func (nopRecipient) Handle(ctx context.Context, payload Payload) error { return nil }

func decodeOrderPlaced(data []byte) (Payload, error) {
	var p orderPlaced
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func TestRegistry_DuplicateSubscribeIsNoop(t *testing.T) {
	r := NewRegistry()
	factory := func() Recipient { return nopRecipient{} }

	r.Subscribe("orders.placed", "auditor", factory)
	r.Subscribe("orders.placed", "auditor", factory)
	r.Subscribe("orders.placed", "mailer", factory)

	subs := r.Subscriptions("orders.placed")
	assert.Len(t, subs, 2)
	// registration order is preserved
	assert.Equal(t, "auditor", subs[0].Name)
	assert.Equal(t, "mailer", subs[1].Name)
}

func TestRegistry_UnknownTypeYieldsEmptySet(t *testing.T) {
	r := NewRegistry()
	subs := r.Subscriptions("ghost.type")
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

func TestRegistry_Decode(t *testing.T) {
	r := NewRegistry()
	r.RegisterPayload("orders.placed", decodeOrderPlaced)

	p, err := r.Decode("orders.placed", []byte(`{"orderId":42}`))
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), p.(orderPlaced).OrderID)

	_, err = r.Decode("ghost.type", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownPayloadType)
}
