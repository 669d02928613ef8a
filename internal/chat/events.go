package chat

import (
	"encoding/json"
	"time"
)

// Event type tags. Every payload on the wire carries exactly one of these.
const (
	EventMessage      = "message"
	EventHistory      = "history"
	EventPresence     = "bear_update"
	EventForcedLogout = "forced_logout"
)

// InboundEvent is what a connected client may send: a chat message (empty
// recipient means public) or a history request.
type InboundEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

// ChatEvent is a single delivered or replayed chat message. Color and icon
// reflect the sender's presentation resolved at delivery time.
type ChatEvent struct {
	Type      string `json:"type"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Private   bool   `json:"private"`
	Color     string `json:"color"`
	Icon      string `json:"icon"`
}

// HistoryEvent carries replayed messages, oldest to newest.
type HistoryEvent struct {
	Type     string      `json:"type"`
	Messages []ChatEvent `json:"messages"`
}

// Bear is one roster entry in a presence update.
type Bear struct {
	Username string `json:"username"`
	Icon     string `json:"icon"`
}

// PresenceEvent is the aggregate roster broadcast on every registry change.
type PresenceEvent struct {
	Type  string `json:"type"`
	Bears []Bear `json:"bears"`
	Count int    `json:"count"`
}

// ForcedLogoutEvent is unicast to a connection whose session was superseded
// by a newer login. It carries no roster.
type ForcedLogoutEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newChatEvent(sender, content string, ts time.Time, private bool, colorName, iconName string) ChatEvent {
	return ChatEvent{
		Type:      EventMessage,
		Sender:    sender,
		Content:   content,
		Timestamp: ts.UTC().Format(time.RFC3339),
		Private:   private,
		Color:     ColorCode(colorName),
		Icon:      IconPath(iconName),
	}
}

func encodeEvent(v any) []byte {
	payload, _ := json.Marshal(v)
	return payload
}
