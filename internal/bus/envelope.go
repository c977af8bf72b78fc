// Package bus implements the in-process event bus: canonical envelopes,
// synchronous delivery with per-subscriber retries, per-topic FIFO async
// delivery, and an SQLite-backed idempotency store giving at-least-once
// semantics with deduplicated side effects.
package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Envelope is the unit of bus traffic.
type Envelope struct {
	// EventID deduplicates deliveries: SHA-256 over source, external ID,
	// and the canonicalized payload.
	EventID string `json:"event_id"`
	// EventTS is the UTC event timestamp.
	EventTS time.Time `json:"event_ts"`
	// Seq is an optional ordering hint within the same EventTS.
	Seq int `json:"seq,omitempty"`
	// Source tags the origin: telegram, gcal, cli, internal, ...
	Source string `json:"source"`
	// Type is the dotted event name: message.received, entity.created, ...
	Type string `json:"type"`
	// Payload is the opaque event body.
	Payload map[string]any `json:"payload"`
	// TraceID correlates the event with logs and downstream work.
	TraceID string `json:"trace_id,omitempty"`
	// SessionID ties the event to a conversation.
	SessionID string `json:"session_id,omitempty"`
}

// Validate checks the required envelope fields.
func (e *Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("bus: envelope missing event_id")
	case e.EventTS.IsZero():
		return fmt.Errorf("bus: envelope missing event_ts")
	case e.Source == "":
		return fmt.Errorf("bus: envelope missing source")
	case e.Type == "":
		return fmt.Errorf("bus: envelope missing type")
	default:
		return nil
	}
}

// ComputeEventID derives the deduplication key from the event source, the
// origin's external ID, and a canonical rendering of the payload. The same
// logical event always hashes to the same ID.
func ComputeEventID(source, externalID string, payload map[string]any) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(externalID))
	h.Write([]byte{0})
	h.Write(canonicalJSON(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON renders a payload deterministically: objects with sorted
// keys, no insignificant whitespace.
func canonicalJSON(v any) []byte {
	b, err := json.Marshal(canonicalize(v))
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	return b
}

func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		// encoding/json already sorts map keys, but normalizing nested
		// values keeps the canonical form independent of input types.
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return v
	}
}

// New constructs an envelope with the event ID derived from source,
// externalID, and payload, stamped at now.
func New(source, eventType, externalID string, payload map[string]any, now time.Time) Envelope {
	return Envelope{
		EventID: ComputeEventID(source, externalID, payload),
		EventTS: now.UTC(),
		Source:  source,
		Type:    eventType,
		Payload: payload,
	}
}
