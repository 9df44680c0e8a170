package realtime

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

const (
	// EventRefresh tells a dashboard to reload its counts.
	EventRefresh = "refresh"
	// EventChatMessage carries a thread event to the thread's chat room.
	EventChatMessage = "chat_message"
)

var refreshFrame = []byte(`{"action":"refresh"}`)

// Notifier is what domain-action handlers call after their own mutation has
// committed. It only reaches live connections; nothing here is durable and
// failures are logged, never returned.
type Notifier struct {
	broker Broker
	log    zerolog.Logger
}

// NewNotifier creates a Notifier publishing through broker.
func NewNotifier(broker Broker, log zerolog.Logger) *Notifier {
	return &Notifier{
		broker: broker,
		log:    log.With().Str("component", "notifier").Logger(),
	}
}

// NotifyDashboards sends one refresh to the dashboard of each distinct user.
// Zero ids are ignored. It returns the number of distinct users targeted.
func (n *Notifier) NotifyDashboards(ctx context.Context, userIDs ...int64) int {
	seen := make(map[int64]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if uid <= 0 {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}

		g := DashboardGroup(uid)
		if err := n.broker.Publish(ctx, g, refreshFrame); err != nil {
			n.log.Error().Err(err).Str("group", g.String()).Msg("dashboard refresh failed")
		}
	}
	return len(seen)
}

// NotifyThread sends payload to the chat room of a thread as a chat_message
// frame. Object payloads are flattened into the frame; anything else is
// carried under "message".
func (n *Notifier) NotifyThread(ctx context.Context, threadID int64, payload any) {
	g := ThreadGroup(threadID)
	frame, err := ChatFrame(payload)
	if err != nil {
		n.log.Error().Err(err).Str("group", g.String()).Msg("chat payload not encodable")
		return
	}
	if err := n.broker.Publish(ctx, g, frame); err != nil {
		n.log.Error().Err(err).Str("group", g.String()).Msg("chat fan-out failed")
	}
}

// ChatFrame builds the {"type":"chat_message", ...} wire frame.
func ChatFrame(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		fields = map[string]json.RawMessage{"message": raw}
	}
	fields["type"] = json.RawMessage(`"` + EventChatMessage + `"`)
	return json.Marshal(fields)
}
