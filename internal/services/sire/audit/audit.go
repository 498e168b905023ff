// Package audit records security-relevant operations performed through the
// lifecycle and realtime surfaces.
package audit

import (
	"context"
	"time"
)

// Outcome classifies how an audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Audited actions.
const (
	ActionSocketConnected    = "socket:connected"
	ActionSocketDisconnected = "socket:disconnected"
	ActionSocketAuthFailure  = "socket:auth:failure"
	ActionSessionJoin        = "session:join"
	ActionSessionStart       = "session:start"
	ActionAdminInject        = "admin:inject"
	ActionEventLog           = "event:log"
	ActionSessionCreate      = "session:create"
	ActionSessionDelete      = "session:delete"
	ActionAuthFailure        = "auth:failure"
	ActionTicketMissing      = "ticket:missing"
	ActionRequestError       = "request:error"
)

// Event is one audit record.
type Event struct {
	Action        string
	Actor         string
	Context       map[string]any
	Outcome       Outcome
	CorrelationID string
	RequestID     string
	Timestamp     time.Time
}

// Sink persists or forwards audit events.
type Sink interface {
	Record(ctx context.Context, evt Event) error
}

// BuildContext copies the allowed keys of payload that hold a value. It
// returns nil when nothing survives.
func BuildContext(payload map[string]any, allowedKeys ...string) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(allowedKeys))
	for _, key := range allowedKeys {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		out[key] = value
	}
	return Sanitize(out)
}

// Sanitize drops non-primitive values. Nil values are kept. It returns nil
// when nothing survives.
func Sanitize(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		switch key {
		case "__proto__", "constructor", "prototype":
			continue
		}
		switch value.(type) {
		case nil, string, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
