package gateway

import (
	"context"
	"encoding/json"
)

// Session lifecycle dispatches consumed by the manager
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Forwarded dispatches
const (
	EventMessageCreate         = "MESSAGE_CREATE"
	EventMessageUpdate         = "MESSAGE_UPDATE"
	EventMessageDelete         = "MESSAGE_DELETE"
	EventMessageReactionAdd    = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemove = "MESSAGE_REACTION_REMOVE"
)

// forwardedEvents is the exact allow-list of dispatches relayed to the sink.
// Only conversational message and reaction events leave the bridge.
var forwardedEvents = map[string]struct{}{
	EventMessageCreate:         {},
	EventMessageUpdate:         {},
	EventMessageDelete:         {},
	EventMessageReactionAdd:    {},
	EventMessageReactionRemove: {},
}

// IsForwarded reports whether a dispatch name is in the allow-list
func IsForwarded(name string) bool {
	_, ok := forwardedEvents[name]
	return ok
}

// OutboundEvent is an accepted dispatch handed to the sink. Payload is the
// frame's d field, untouched.
type OutboundEvent struct {
	EventName string
	Payload   json.RawMessage
}

func newOutboundEvent(name string, payload json.RawMessage) OutboundEvent {
	p := make(json.RawMessage, len(payload))
	copy(p, payload)
	if len(p) == 0 {
		p = json.RawMessage("null")
	}
	return OutboundEvent{EventName: name, Payload: p}
}

// Sink receives accepted events. Send must return without waiting for
// delivery and must not panic into the caller.
type Sink interface {
	Send(ctx context.Context, ev OutboundEvent)
}
