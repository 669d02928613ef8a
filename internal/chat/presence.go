package chat

import "go.uber.org/zap"

// ForcedLogoutMessage is the notice unicast to a connection superseded by a
// newer login for the same account.
const ForcedLogoutMessage = "You have been logged out due to login from another location"

// Broadcaster emits roster updates on registry changes and the unicast
// forced-logout signal for superseded connections.
type Broadcaster struct {
	registry *Registry
	log      *zap.Logger
}

// NewBroadcaster returns a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, log *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, log: log}
}

// BroadcastRoster sends the current roster to every live connection. It is
// called after every registration, voluntary disconnect, and eviction; a
// forced eviction produces no "left" announcement beyond this.
func (b *Broadcaster) BroadcastRoster() {
	snapshot := b.registry.Snapshot()

	bears := make([]Bear, 0, len(snapshot))
	for _, e := range snapshot {
		bears = append(bears, Bear{Username: e.Username, Icon: e.Icon})
	}

	payload := encodeEvent(PresenceEvent{
		Type:  EventPresence,
		Bears: bears,
		Count: len(bears),
	})

	for i := range snapshot {
		snapshot[i].Send(payload, b.log)
	}
}

// SendForcedLogout unicasts the forced-logout signal to a single superseded
// connection. The payload carries no roster.
func (b *Broadcaster) SendForcedLogout(entry *Entry) {
	payload := encodeEvent(ForcedLogoutEvent{
		Type:    EventForcedLogout,
		Message: ForcedLogoutMessage,
	})
	entry.Send(payload, b.log)
}
