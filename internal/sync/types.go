package sync

import "encoding/json"

// PayloadTypeDeployment tags the queue payload carrying sync actions.
const PayloadTypeDeployment = "sync.deployment"

// QueuePrefix prepends the collection name: one queue per replicated
// collection keeps replicated writes ordered per collection.
const QueuePrefix = "sync-"

type ActionType string

const (
	ActionInsert ActionType = "insert"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

// Action is one replicated write. Properties, when present, restricts the
// merge to the named fields; absent, the incoming data fully replaces the
// record. Actions are immutable once enqueued.
type Action struct {
	ActionType ActionType      `json:"actionType"`
	Collection string          `json:"collection"`
	DocumentID *uint64         `json:"documentId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Properties []string        `json:"properties,omitempty"`
}

// Request is the batch a module ships to the owner of the data.
type Request struct {
	RequestingModule string   `json:"requestingModule"`
	Actions          []Action `json:"actions"`
}

// DeploymentMessage wraps a Request with the destination module, which
// the delivery recipient resolves to a peer address.
type DeploymentMessage struct {
	OwnerModule string  `json:"ownerModule"`
	Request     Request `json:"request"`
}

func (DeploymentMessage) PayloadType() string { return PayloadTypeDeployment }

// ActionResult is the per-action outcome returned by the sync endpoint.
type ActionResult struct {
	Collection string  `json:"collection"`
	DocumentID *uint64 `json:"documentId,omitempty"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
}
