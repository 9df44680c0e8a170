// Package activity turns work-thread actions into dashboard refreshes, chat
// frames and push notifications.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"workthread-notify-backend/config"
	"workthread-notify-backend/internal/notification"
)

// Kind names a thread action.
type Kind string

const (
	ThreadCreated       Kind = "thread_created"
	ThreadStatusChanged Kind = "thread_status_update"
	ProgressUpdated     Kind = "progress_updated"
	MessageSent         Kind = "message_sent"
	GatePassOut         Kind = "gatepass_out"
	GatePassIn          Kind = "gatepass_in"
	ClaimAdded          Kind = "claim_added"
	ThreadCompleted     Kind = "thread_completed"
	ReminderAdded       Kind = "reminder_added"
)

var ErrInvalidEvent = errors.New("invalid activity event")

// Event is one action on a thread.
type Event struct {
	Kind        Kind
	ThreadID    int64
	ActorID     int64
	ActorName   string
	CreatorID   int64
	AssigneeIDs []int64
	// Status is the new approval status for ThreadStatusChanged.
	Status string
	// Message is the stored chat message for MessageSent.
	Message map[string]any
	// Text is the message text used in the push body.
	Text string
}

// Fanout is the realtime side.
type Fanout interface {
	NotifyDashboards(ctx context.Context, userIDs ...int64) int
	NotifyThread(ctx context.Context, threadID int64, payload any)
}

// Pusher queues push deliveries.
type Pusher interface {
	EnqueueForUsers(ctx context.Context, userIDs []int64, payload notification.Payload) (int, error)
}

// Report says what an announcement reached.
type Report struct {
	Dashboards int  `json:"dashboards"`
	Chat       bool `json:"chat"`
	Pushes     int  `json:"pushes"`
}

// Announcer fans thread actions out on both notification paths. Delivery
// failures are logged and never fail the action that caused them.
type Announcer struct {
	fanout Fanout
	push   Pusher
	links  config.LinksConfig
	log    zerolog.Logger
}

func NewAnnouncer(fanout Fanout, push Pusher, links config.LinksConfig, log zerolog.Logger) *Announcer {
	return &Announcer{
		fanout: fanout,
		push:   push,
		links:  links,
		log:    log.With().Str("component", "announcer").Logger(),
	}
}

// Audience is the creator plus the assignees, without duplicates or zero ids.
func (e Event) Audience() []int64 {
	seen := make(map[int64]struct{}, len(e.AssigneeIDs)+1)
	out := make([]int64, 0, len(e.AssigneeIDs)+1)
	for _, id := range append([]int64{e.CreatorID}, e.AssigneeIDs...) {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e Event) validate() error {
	switch e.Kind {
	case ThreadCreated, ThreadStatusChanged, ProgressUpdated, MessageSent,
		GatePassOut, GatePassIn, ClaimAdded, ThreadCompleted:
		if e.ThreadID <= 0 {
			return fmt.Errorf("%w: %s needs a thread id", ErrInvalidEvent, e.Kind)
		}
	case ReminderAdded:
		if e.ActorID <= 0 {
			return fmt.Errorf("%w: reminder needs an actor", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}
	if e.Kind == ThreadStatusChanged && e.Status == "" {
		return fmt.Errorf("%w: status update without a status", ErrInvalidEvent)
	}
	return nil
}

// Announce publishes ev. Only a malformed event is an error.
func (a *Announcer) Announce(ctx context.Context, ev Event) (Report, error) {
	if err := ev.validate(); err != nil {
		return Report{}, err
	}
	log := a.log.With().Str("kind", string(ev.Kind)).Int64("thread_id", ev.ThreadID).Logger()

	var rep Report
	if ev.Kind == ReminderAdded {
		rep.Dashboards = a.fanout.NotifyDashboards(ctx, ev.ActorID)
	} else {
		rep.Dashboards = a.fanout.NotifyDashboards(ctx, ev.Audience()...)
	}

	if chat, ok := a.chatPayload(ev); ok {
		a.fanout.NotifyThread(ctx, ev.ThreadID, chat)
		rep.Chat = true
	}

	if payload, recipients := a.pushFor(ev); len(recipients) > 0 {
		n, err := a.push.EnqueueForUsers(ctx, recipients, payload)
		if err != nil {
			log.Error().Err(err).Msg("queueing push notifications failed")
		}
		rep.Pushes = n
	}

	log.Debug().Int("dashboards", rep.Dashboards).Bool("chat", rep.Chat).Int("pushes", rep.Pushes).Msg("announced")
	return rep, nil
}

func (a *Announcer) chatPayload(ev Event) (any, bool) {
	switch ev.Kind {
	case ThreadStatusChanged:
		return map[string]any{"event": string(ev.Kind), "status": ev.Status, "by": ev.ActorName}, true
	case MessageSent:
		if ev.Message == nil {
			return map[string]any{"thread": ev.ThreadID, "sender": ev.ActorID, "text_message": ev.Text}, true
		}
		return ev.Message, true
	case GatePassOut, GatePassIn, ClaimAdded, ThreadCompleted:
		return map[string]any{"event": string(ev.Kind), "by": ev.ActorName}, true
	case ReminderAdded:
		if ev.ThreadID > 0 {
			return map[string]any{"event": string(ev.Kind), "by": ev.ActorName}, true
		}
	}
	return nil, false
}

// pushFor builds the push payload and its recipients. The actor never gets
// a push about their own action.
func (a *Announcer) pushFor(ev Event) (notification.Payload, []int64) {
	if ev.Kind == ReminderAdded {
		return notification.Payload{}, nil
	}

	by := ev.ActorName
	if by == "" {
		by = "Someone"
	}
	p := notification.Payload{
		URL:   a.threadURL(ev.ThreadID),
		Icon:  a.links.Icon,
		Badge: a.links.Badge,
	}
	switch ev.Kind {
	case ThreadCreated:
		p.Title = "New request"
		p.Body = fmt.Sprintf("%s created a new request.", by)
	case ThreadStatusChanged:
		p.Title = "Request " + strings.ToLower(ev.Status)
		p.Body = fmt.Sprintf("%s marked the request %s.", by, strings.ToLower(ev.Status))
	case ProgressUpdated:
		p.Title = "Progress updated"
		p.Body = fmt.Sprintf("%s posted a progress update.", by)
	case MessageSent:
		p.Title = "New message from " + by
		p.Body = ev.Text
		if p.Body == "" {
			p.Body = "You have a new message."
		}
	case GatePassOut:
		p.Title = "Gate pass out"
		p.Body = fmt.Sprintf("%s marked the gate pass out.", by)
	case GatePassIn:
		p.Title = "Gate pass in"
		p.Body = fmt.Sprintf("%s marked the gate pass in.", by)
	case ClaimAdded:
		p.Title = "Claim added"
		p.Body = fmt.Sprintf("%s added a claim.", by)
	case ThreadCompleted:
		p.Title = "Request completed"
		p.Body = fmt.Sprintf("%s completed the request.", by)
	}

	recipients := make([]int64, 0, len(ev.AssigneeIDs)+1)
	for _, id := range ev.Audience() {
		if id != ev.ActorID {
			recipients = append(recipients, id)
		}
	}
	return p, recipients
}

func (a *Announcer) threadURL(threadID int64) string {
	if a.links.ThreadURL == "" || threadID <= 0 {
		return ""
	}
	return fmt.Sprintf(a.links.ThreadURL, threadID)
}
