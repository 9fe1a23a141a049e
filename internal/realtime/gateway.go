package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/culturebook/backend/internal/auth"
	"github.com/culturebook/backend/internal/services"
)

// GatewayConfig bounds the behavior of admitted connections.
type GatewayConfig struct {
	// ReadLimit caps inbound frame size in bytes.
	ReadLimit int64
	// WriteTimeout is the per-push write deadline applied to sessions.
	WriteTimeout time.Duration
}

// Gateway is the connection gate and per-connection event loop of the
// real-time channel. It authenticates an inbound websocket attempt before
// upgrading (fail closed: no session is ever created for an unverified
// token), registers the session, announces presence, then dispatches the
// closed set of client events until the connection drops.
type Gateway struct {
	verifier auth.Verifier
	registry *Registry
	presence *Broadcaster
	router   *Router
	cfg      GatewayConfig

	upgrader websocket.Upgrader
	validate *validator.Validate
}

// NewGateway wires a Gateway to its collaborators. Origin checking is left
// open: the bearer token is the admission control, and the REST CORS policy
// does not apply to websocket upgrades.
func NewGateway(verifier auth.Verifier, reg *Registry, presence *Broadcaster, router *Router, cfg GatewayConfig) *Gateway {
	return &Gateway{
		verifier: verifier,
		registry: reg,
		presence: presence,
		router:   router,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		validate: validator.New(),
	}
}

// Handler returns the gin handler serving GET /ws.
//
// The credential token travels in the "token" query parameter (browser
// websocket clients cannot set headers) with an Authorization: Bearer
// fallback for non-browser clients.
func (g *Gateway) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		identity, err := g.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			// Refused before upgrade: no session state exists to clean up.
			log.Warn().Err(err).
				Str("component", "realtime").
				Str("remote_ip", c.ClientIP()).
				Msg("ws connection refused")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "unauthorized",
				"message": "invalid or expired token",
			})
			return
		}

		conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the handshake error.
			return
		}

		sess := newSession(identity.UserID, identity.Name, conn, g.cfg.WriteTimeout)
		if replaced := g.registry.Register(identity.UserID, sess); replaced != nil {
			// Last-connect-wins: the stale handle loses delivery and is
			// closed here, at the transport layer.
			_ = replaced.Close()
		}
		wsConnections.Set(float64(g.registry.Len()))
		g.presence.BroadcastPresence()

		log.Info().
			Str("component", "realtime").
			Str("user_id", identity.UserID).
			Msg("ws connected")

		g.readLoop(sess, conn)

		g.registry.Unregister(identity.UserID, sess)
		wsConnections.Set(float64(g.registry.Len()))
		g.presence.BroadcastPresence()
		_ = conn.Close()

		log.Info().
			Str("component", "realtime").
			Str("user_id", identity.UserID).
			Msg("ws disconnected")
	}
}

// readLoop consumes frames until the connection drops. Every inbound event
// is handled independently; a bad event never terminates the connection.
func (g *Gateway) readLoop(sess *session, conn *websocket.Conn) {
	if g.cfg.ReadLimit > 0 {
		conn.SetReadLimit(g.cfg.ReadLimit)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).
				Str("component", "realtime").
				Str("user_id", sess.UserID()).
				Msg("ws read loop end")
			return
		}
		g.dispatch(sess, data)
	}
}

// dispatch decodes one inbound frame and routes it by event name. The event
// set is closed; anything else is counted, logged, and dropped.
func (g *Gateway) dispatch(sess *session, data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		wsEventsIn.WithLabelValues("unknown").Inc()
		g.sendError(sess, "malformed frame")
		return
	}

	switch frame.Event {
	case EventSendMessage:
		wsEventsIn.WithLabelValues(EventSendMessage).Inc()
		g.handleSendMessage(sess, frame.Data)
	case EventTyping:
		wsEventsIn.WithLabelValues(EventTyping).Inc()
		g.handleTyping(sess, frame.Data, true)
	case EventStopTyping:
		wsEventsIn.WithLabelValues(EventStopTyping).Inc()
		g.handleTyping(sess, frame.Data, false)
	default:
		wsEventsIn.WithLabelValues("unknown").Inc()
		log.Warn().
			Str("component", "realtime").
			Str("user_id", sess.UserID()).
			Str("event", frame.Event).
			Msg("unknown ws event dropped")
	}
}

// handleSendMessage validates and routes a direct-message intent. Failures
// are reported to the sender only, via a messageError frame; the connection
// stays open and nothing escapes to the transport layer.
func (g *Gateway) handleSendMessage(sess *session, raw json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		g.sendError(sess, "malformed sendMessage payload")
		return
	}
	if err := g.validate.Struct(p); err != nil {
		g.sendError(sess, "recipientId and content are required")
		return
	}

	// The durable write must complete even when the client goes away
	// mid-send, so the loop's connection lifetime is not the bound here.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := g.router.RouteDirectMessage(ctx, sess.UserID(), p.RecipientID, p.Content); err != nil {
		g.sendError(sess, sendErrorReason(err))
		log.Warn().Err(err).
			Str("component", "realtime").
			Str("user_id", sess.UserID()).
			Msg("sendMessage rejected")
	}
}

// handleTyping validates and fans out a typing signal.
func (g *Gateway) handleTyping(sess *session, raw json.RawMessage, active bool) {
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if err := g.validate.Struct(p); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.router.RouteTyping(ctx, p.ConversationID, sess.UserID(), sess.Name(), active)
}

// sendError pushes a messageError frame to the sender. Best effort: if even
// this write fails the read loop will notice the dead connection.
func (g *Gateway) sendError(sess *session, reason string) {
	if err := sess.Push(EventMessageError, MessageError{Error: reason}); err != nil {
		log.Debug().Err(err).
			Str("component", "realtime").
			Str("user_id", sess.UserID()).
			Msg("messageError push failed")
	}
}

// sendErrorReason maps service errors to client-safe reasons. Unexpected
// (persistence) failures are reported generically; the client may resubmit,
// and re-resolving the conversation by participant set makes that safe.
func sendErrorReason(err error) string {
	switch {
	case errors.Is(err, services.ErrEmptyContent):
		return "message content is empty"
	case errors.Is(err, services.ErrTooLong):
		return "message content too long"
	case errors.Is(err, services.ErrInvalidRecipient):
		return "invalid recipient"
	case errors.Is(err, services.ErrConversationNotFound), errors.Is(err, services.ErrNotParticipant):
		return "conversation not found"
	default:
		return "failed to send message"
	}
}
