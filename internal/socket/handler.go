// ABOUTME: Websocket endpoint binding authenticated clients to the room manager
// ABOUTME: Runs one read loop and one write loop per connection and routes inbound client events

package socket

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/switchboard/internal/auth"
	"github.com/2389/switchboard/internal/rooms"
	"github.com/2389/switchboard/internal/store"
	"github.com/2389/switchboard/internal/typing"
)

const (
	// DefaultPingInterval is how often the server pings an idle client
	DefaultPingInterval = 25 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Outbound events produced by the handler itself
const (
	EventConnected          = "connected"
	EventJoinedConversation = "joined_conversation"
	EventLeftConversation   = "left_conversation"
	EventTypingUsersList    = "typing_users_list"
	EventError              = "error"
)

// Inbound client events
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventGetTypingUsers    = "get_typing_users"
)

// TypingTracker is the subset of the typing tracker the handler drives.
type TypingTracker interface {
	Start(conversationID, userID, userName, exceptConnID string)
	Stop(conversationID, userID, exceptConnID string) bool
	List(conversationID string) []typing.Entry
}

// Config holds websocket tunables.
type Config struct {
	SendBuffer   int
	PingInterval time.Duration
	// AllowedOrigins lists browser origins allowed to connect. Empty keeps
	// gorilla's same-origin check; "*" allows any origin.
	AllowedOrigins []string
}

// Handler upgrades authenticated requests to websocket sessions. It must be
// mounted behind auth.HTTPAuthMiddleware.
type Handler struct {
	rooms    *rooms.Manager
	typing   TypingTracker
	store    store.ConversationStore
	upgrader websocket.Upgrader
	cfg      Config
	logger   *slog.Logger
}

// NewHandler creates a websocket handler.
func NewHandler(cfg Config, manager *rooms.Manager, tracker TypingTracker, conversations store.ConversationStore, logger *slog.Logger) *Handler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		rooms:  manager,
		typing: tracker,
		store:  conversations,
		cfg:    cfg,
		logger: logger.With("component", "socket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
	}
	return h
}

// checkOrigin returns nil for an empty list so gorilla applies its default
// same-origin policy.
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// connectedPayload is the body of the connected frame.
type connectedPayload struct {
	ConnectionID string        `json:"connectionId"`
	Identity     auth.Identity `json:"identity"`
}

// ServeHTTP upgrades the request and serves the session until the client
// goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", "identity_id", identity.ID, "error", err)
		return
	}

	conn := rooms.NewConnection(*identity, h.cfg.SendBuffer)
	logger := h.logger.With("conn_id", conn.ID, "identity_id", identity.ID, "role", identity.Role)

	h.rooms.Register(conn)
	h.rooms.Send(conn, EventConnected, connectedPayload{ConnectionID: conn.ID, Identity: *identity})
	logger.Info("client connected", "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ws, conn, logger)
	}()

	h.readPump(r, ws, conn, logger)

	h.rooms.Unregister(conn)
	<-done
	logger.Info("client disconnected")
}

// writePump drains the connection queue onto the socket and keeps the
// session alive with pings. It owns every write to ws.
func (h *Handler) writePump(ws *websocket.Conn, conn *rooms.Connection, logger *slog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame, ok := <-conn.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readPump reads client frames until the socket fails or the peer closes.
func (h *Handler) readPump(r *http.Request, ws *websocket.Conn, conn *rooms.Connection, logger *slog.Logger) {
	pongWait := h.cfg.PingInterval * 2

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("unexpected close", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		h.dispatch(r.Context(), conn, data)
	}
}
