package sync

import (
	"encoding/json"
	"fmt"
	"sort"
)

// mergeDocument copies only the named properties from the incoming
// document onto the existing record and decodes the result into a fresh
// instance. Incoming values for undeclared properties are ignored;
// existing fields outside the property list are untouched. Property names
// are wire-level JSON field names.
func mergeDocument(existing Entity, incoming json.RawMessage, properties []string, fresh EntityFactory) (Entity, error) {
	current, err := json.Marshal(existing)
	if err != nil {
		return nil, fmt.Errorf("marshal existing record: %w", err)
	}
	var curDoc, inDoc map[string]json.RawMessage
	if err := json.Unmarshal(current, &curDoc); err != nil {
		return nil, fmt.Errorf("decode existing record: %w", err)
	}
	if err := json.Unmarshal(incoming, &inDoc); err != nil {
		return nil, fmt.Errorf("decode incoming data: %w", err)
	}
	for _, prop := range properties {
		if v, ok := inDoc[prop]; ok {
			curDoc[prop] = v
		}
	}
	merged, err := json.Marshal(curDoc)
	if err != nil {
		return nil, fmt.Errorf("marshal merged record: %w", err)
	}
	out := fresh()
	if err := json.Unmarshal(merged, out); err != nil {
		return nil, fmt.Errorf("decode merged record: %w", err)
	}
	return out, nil
}

// documentProperties lists the JSON field names of a marshaled entity,
// sorted for determinism. Used when the caller tracks no change flags:
// the replicated projection is narrower than the owner's record, so its
// full field set still cannot clobber owner-only fields.
func documentProperties(doc json.RawMessage) ([]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, err
	}
	props := make([]string, 0, len(fields))
	for name := range fields {
		props = append(props, name)
	}
	sort.Strings(props)
	return props, nil
}
