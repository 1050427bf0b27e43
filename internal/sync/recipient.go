package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modularcrm/syncqueue/internal/bus"
	"go.uber.org/zap"
)

// applyPath is the sync apply endpoint exposed by every module.
const applyPath = "/sync/apply"

// DeliveryRecipient posts a deployment message's request batch to the
// owning module's sync endpoint. Network and remote failures surface as
// handler errors so the processor retries with backoff.
type DeliveryRecipient struct {
	peers  map[string]string
	client *http.Client
	log    *zap.SugaredLogger
}

func NewDeliveryRecipient(peers map[string]string, client *http.Client, logger *zap.SugaredLogger) *DeliveryRecipient {
	if client == nil {
		client = http.DefaultClient
	}
	return &DeliveryRecipient{peers: peers, client: client, log: logger}
}

type applyResponse struct {
	Results []ActionResult `json:"results"`
}

// Handle implements bus.Recipient.
func (r *DeliveryRecipient) Handle(ctx context.Context, payload bus.Payload) error {
	msg, ok := payload.(*DeploymentMessage)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %q", payload, PayloadTypeDeployment)
	}
	base, ok := r.peers[msg.OwnerModule]
	if !ok {
		return fmt.Errorf("no peer address configured for module %q", msg.OwnerModule)
	}

	body, err := json.Marshal(msg.Request)
	if err != nil {
		return fmt.Errorf("serialize sync request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+applyPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sync request to %q: %w", msg.OwnerModule, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusBadRequest {
		// The peer rejected the request shape itself; resending the same
		// bytes cannot succeed.
		raw, _ := io.ReadAll(resp.Body)
		return bus.Permanent(fmt.Errorf("sync apply to %q rejected as malformed: %s",
			msg.OwnerModule, raw))
	}

	// Partial success still fails the whole message: the interceptor
	// enqueues one action per message, so a 207 means that action failed.
	raw, _ := io.ReadAll(resp.Body)
	var parsed applyResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed.Results) > 0 {
		for _, res := range parsed.Results {
			if !res.Success {
				return fmt.Errorf("sync apply on %q rejected by %q: %s",
					res.Collection, msg.OwnerModule, res.Error)
			}
		}
	}
	return fmt.Errorf("sync apply to %q: unexpected status %d", msg.OwnerModule, resp.StatusCode)
}

// DecodeDeployment is the registry decoder for deployment messages.
func DecodeDeployment(data []byte) (bus.Payload, error) {
	var msg DeploymentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
