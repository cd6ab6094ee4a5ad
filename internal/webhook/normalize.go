package webhook

import (
	"strings"

	"github.com/lexflow/lexflow/internal/store"
)

// Normalize turns a raw payload into the event the engine acts on.
// Echoes of our own messages are ignored so the funnel never responds
// to itself.
func Normalize(p *Payload) Event {
	if p.Data.Key.FromMe {
		return Event{Kind: EventIgnored}
	}

	if status := deliveryStatus(p); status != "" {
		return Event{
			Kind:           EventDelivery,
			MessageID:      p.Data.Key.ID,
			DeliveryStatus: status,
		}
	}

	phone := phoneFromJid(p.Data.Key.RemoteJid)
	if phone == "" || p.Data.Message == nil {
		return Event{Kind: EventIgnored}
	}

	ev := Event{
		Kind:      EventInbound,
		Phone:     phone,
		PushName:  p.Data.PushName,
		MessageID: p.Data.Key.ID,
		MediaType: mediaType(p),
	}
	ev.Text = textContent(p.Data.Message)
	return ev
}

// deliveryStatus maps gateway ack names onto store delivery statuses.
// Unknown names return empty, which drops the event.
func deliveryStatus(p *Payload) string {
	raw := p.Data.Status
	if p.Data.Update != nil && p.Data.Update.Status != "" {
		raw = p.Data.Update.Status
	}
	switch strings.ToUpper(raw) {
	case "SERVER_ACK", "SENT":
		return store.DeliverySent
	case "DELIVERY_ACK", "DELIVERED":
		return store.DeliveryDelivered
	case "READ":
		return store.DeliveryRead
	case "ERROR", "FAILED":
		return store.DeliveryFailed
	}
	return ""
}

// phoneFromJid strips the server suffix from a chat jid. Group jids
// are not phone numbers and normalize to empty.
func phoneFromJid(jid string) string {
	if strings.HasSuffix(jid, "@g.us") {
		return ""
	}
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

func textContent(msg map[string]any) string {
	if s, ok := msg["conversation"].(string); ok && s != "" {
		return s
	}
	if ext, ok := msg["extendedTextMessage"].(map[string]any); ok {
		if s, ok := ext["text"].(string); ok {
			return s
		}
	}
	// Captions and filenames stand in for text on media messages.
	if img, ok := msg["imageMessage"].(map[string]any); ok {
		if s, ok := img["caption"].(string); ok {
			return s
		}
	}
	if doc, ok := msg["documentMessage"].(map[string]any); ok {
		if s, ok := doc["fileName"].(string); ok {
			return s
		}
	}
	return ""
}

func mediaType(p *Payload) string {
	switch p.Data.MessageType {
	case "audioMessage", "imageMessage", "documentMessage":
		return p.Data.MessageType
	}
	for _, k := range []string{"audioMessage", "imageMessage", "documentMessage"} {
		if _, ok := p.Data.Message[k]; ok {
			return k
		}
	}
	return ""
}
