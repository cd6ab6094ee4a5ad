// Package webhook receives chat-channel events, normalizes them, and
// resolves media to text before the engine sees them.
package webhook

// Payload is the raw event body posted by the channel gateway.
type Payload struct {
	Instance string      `json:"instance"`
	Event    string      `json:"event,omitempty"`
	Data     PayloadData `json:"data"`
}

// PayloadData is the event-specific part of a webhook payload.
type PayloadData struct {
	Key         MessageKey     `json:"key"`
	Message     map[string]any `json:"message,omitempty"`
	MessageType string         `json:"messageType,omitempty"`
	PushName    string         `json:"pushName,omitempty"`
	Status      string         `json:"status,omitempty"`
	Update      *StatusUpdate  `json:"update,omitempty"`
}

// MessageKey identifies a message and its direction.
type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id,omitempty"`
}

// StatusUpdate carries a delivery-status change for a sent message.
type StatusUpdate struct {
	Status string `json:"status,omitempty"`
}

// EventKind classifies a normalized event.
type EventKind int

const (
	// EventIgnored covers echoes of our own messages and payloads
	// with nothing actionable.
	EventIgnored EventKind = iota
	// EventInbound is a client message to process.
	EventInbound
	// EventDelivery is a delivery-status patch for a sent message.
	EventDelivery
)

// Event is the normalized form handed to the engine.
type Event struct {
	Kind      EventKind
	Phone     string
	PushName  string
	MessageID string
	// Text is the message content for inbound events. Media arrives
	// with a kind marker prefix after resolution.
	Text string
	// MediaType is set when the inbound message carries media.
	MediaType string
	// DeliveryStatus is the store-level status for delivery events.
	DeliveryStatus string
}
