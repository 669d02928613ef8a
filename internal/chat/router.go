package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/store"
)

// Router validates, persists, and dispatches chat messages. Persistence
// comes first: a message is durably stored even when it reaches no live
// recipient.
type Router struct {
	store        *store.Store
	registry     *Registry
	historyLimit int
	log          *zap.Logger
}

// NewRouter wires the message router. historyLimit bounds how many messages
// a replay returns.
func NewRouter(st *store.Store, registry *Registry, historyLimit int, log *zap.Logger) *Router {
	return &Router{
		store:        st,
		registry:     registry,
		historyLimit: historyLimit,
		log:          log,
	}
}

// Route handles one inbound chat message from sender. Blank content is
// dropped silently. A non-empty target makes the message private: it is
// persisted regardless of whether the target is live, and delivered only to
// the sender's and target's connections. An unknown target is inert, not an
// error: the message still persists and echoes back to the sender alone.
func (r *Router) Route(ctx context.Context, sender *store.Account, content, targetUsername string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	targetUsername = strings.TrimSpace(targetUsername)
	private := targetUsername != ""

	// The sender's presentation is re-read so the delivered event shows the
	// current color and icon, not the ones from login time.
	current, err := r.store.AccountByID(ctx, sender.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		current = sender
	}

	msg := &store.Message{
		Content:   content,
		Username:  current.Username,
		Timestamp: time.Now().UTC(),
		Private:   private,
		Recipient: targetUsername,
		ColorName: current.ColorName,
		IconName:  current.IconName,
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		r.log.Error("persisting message failed", zap.String("sender", current.Username), zap.Error(err))
		return err
	}

	payload := encodeEvent(newChatEvent(
		current.Username, content, msg.Timestamp, private, current.ColorName, current.IconName))

	snapshot := r.registry.Snapshot()
	for i := range snapshot {
		entry := &snapshot[i]
		if private && entry.Username != current.Username && entry.Username != targetUsername {
			continue
		}
		entry.Send(payload, r.log)
	}
	return nil
}

// Replay returns the most recent messages, oldest first, filtered to what
// the requester may see: public messages plus private ones the requester
// sent or received. Each event is re-enriched with the author's current
// presentation; the presentation frozen on the row is used only when the
// author no longer exists.
func (r *Router) Replay(ctx context.Context, requester *store.Account) ([]ChatEvent, error) {
	messages, err := r.store.RecentMessages(ctx, r.historyLimit)
	if err != nil {
		return nil, err
	}

	events := make([]ChatEvent, 0, len(messages))
	for _, msg := range messages {
		if msg.Private && msg.Username != requester.Username && msg.Recipient != requester.Username {
			continue
		}

		colorName, iconName := msg.ColorName, msg.IconName
		if author, err := r.store.AccountByUsername(ctx, msg.Username); err == nil {
			colorName, iconName = author.ColorName, author.IconName
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		events = append(events, newChatEvent(
			msg.Username, msg.Content, msg.Timestamp, msg.Private, colorName, iconName))
	}
	return events, nil
}

// HistoryPayload encodes a replay for the requester as a single history
// event ready to put on the wire.
func (r *Router) HistoryPayload(ctx context.Context, requester *store.Account) ([]byte, error) {
	events, err := r.Replay(ctx, requester)
	if err != nil {
		return nil, err
	}
	return encodeEvent(HistoryEvent{Type: EventHistory, Messages: events}), nil
}
