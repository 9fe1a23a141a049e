package realtime

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/culturebook/backend/internal/domain"
	"github.com/culturebook/backend/internal/services"
)

// Router decides whether and where to push an outbound event. It implements
// store-and-forward delivery: the durable write always happens (through the
// message service), the live push is attempted only when the recipient has a
// registered session, and a missing session is normal control flow, never an
// error. The durable store stays the single source of truth for history;
// the registry is only a routing index.
type Router struct {
	Registry *Registry
	Messages *services.MessageService
	Convs    *services.ConversationService
}

// NewRouter wires a Router to its collaborators.
func NewRouter(reg *Registry, msgs *services.MessageService, convs *services.ConversationService) *Router {
	return &Router{Registry: reg, Messages: msgs, Convs: convs}
}

// RouteDirectMessage persists a direct message and pushes it to the
// recipient's live session when one exists. Persistence failures are
// returned to the caller; a recipient without a session is not an error,
// the message is durable and shows up on the next conversation fetch.
//
// The sender's own other sessions never receive the push; the sender already
// has local optimistic state.
func (rt *Router) RouteDirectMessage(ctx context.Context, senderID, recipientID, content string) (*domain.Message, error) {
	msg, err := rt.Messages.Send(ctx, senderID, recipientID, content)
	if err != nil {
		return nil, err
	}
	rt.pushTo(recipientID, EventNewMessage, msg)
	return msg, nil
}

// RouteConversationMessage persists a message into an existing conversation
// and pushes it to every other participant with a live session.
func (rt *Router) RouteConversationMessage(ctx context.Context, senderID, conversationID, content string) (*domain.Message, error) {
	msg, err := rt.Messages.SendToConversation(ctx, senderID, conversationID, content)
	if err != nil {
		return nil, err
	}
	participants, perr := rt.Convs.Participants(ctx, conversationID)
	if perr != nil {
		// The message is already durable; only the live fan-out is lost.
		log.Warn().Err(perr).
			Str("component", "realtime").
			Str("conversation_id", conversationID).
			Msg("participant lookup failed after send")
		return msg, nil
	}
	for _, uid := range participants {
		if uid == senderID {
			continue
		}
		rt.pushTo(uid, EventNewMessage, msg)
	}
	return msg, nil
}

// RouteNotification pushes an already-persisted notification to its
// recipient's live session. When the recipient is offline the push is
// silently dropped: the durable record was created by the caller, only the
// live toast is missed.
func (rt *Router) RouteNotification(recipientID string, n *domain.Notification) {
	rt.pushTo(recipientID, EventNewNotification, n)
}

// RouteTyping fans a typing (or stop-typing) signal out to the other
// participants of a conversation. Typing signals are ephemeral: nothing is
// persisted, and senders who are not participants are dropped.
func (rt *Router) RouteTyping(ctx context.Context, conversationID, senderID, senderName string, active bool) {
	participants, err := rt.Convs.Participants(ctx, conversationID)
	if err != nil {
		log.Debug().Err(err).
			Str("component", "realtime").
			Str("conversation_id", conversationID).
			Msg("typing signal for unknown conversation dropped")
		return
	}
	member := false
	for _, uid := range participants {
		if uid == senderID {
			member = true
			break
		}
	}
	if !member {
		return
	}

	event := EventUserTyping
	payload := any(TypingEvent{UserID: senderID, Name: senderName})
	if !active {
		event = EventUserStopTyping
		payload = TypingEvent{UserID: senderID}
	}
	for _, uid := range participants {
		if uid == senderID {
			continue
		}
		rt.pushTo(uid, event, payload)
	}
}

// pushTo delivers one event to userID's registered session, if any. The
// three outcomes (delivered, offline, failed) are counted; offline is the
// normal store-and-forward path and is logged at debug only.
func (rt *Router) pushTo(userID, event string, payload any) {
	c, ok := rt.Registry.Lookup(userID)
	if !ok {
		wsPushes.WithLabelValues(event, outcomeOffline).Inc()
		log.Debug().
			Str("component", "realtime").
			Str("user_id", userID).
			Str("event", event).
			Msg("recipient offline, live push skipped")
		return
	}
	if err := c.Push(event, payload); err != nil {
		wsPushes.WithLabelValues(event, outcomeFailed).Inc()
		log.Warn().Err(err).
			Str("component", "realtime").
			Str("user_id", userID).
			Str("event", event).
			Msg("live push failed")
		return
	}
	wsPushes.WithLabelValues(event, outcomeDelivered).Inc()
}
