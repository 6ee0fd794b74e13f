package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-motion-core/internal/auth"
	"github.com/nerrad567/gray-motion-core/internal/broadcast"
	"github.com/nerrad567/gray-motion-core/internal/motion"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeCommand     = "command"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsReplyBufferSize bounds responses waiting for the write pump.
	wsReplyBufferSize = 16

	// wsCommandTimeout bounds one command forwarded to the engine.
	wsCommandTimeout = 2 * time.Second
)

// WSMessage is a message sent to a WebSocket client. Broadcast messages
// carry their topic and per-topic sequence number.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a message received from a WebSocket client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Topics []string `json:"topics"`
}

// wsClient binds one WebSocket connection to one broadcast session.
// Only writePump writes to conn.
type wsClient struct {
	server  *Server
	conn    *websocket.Conn
	session *broadcast.Session
	claims  *auth.CustomClaims
	replies chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via ticket query parameter (obtained from POST /auth/ws-ticket).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.validateTicket(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		server:  s,
		conn:    conn,
		session: s.hub.Register(),
		claims: &auth.CustomClaims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: entry.username},
			Role:             entry.role,
		},
		replies: make(chan []byte, wsReplyBufferSize),
	}
	s.logger.Debug("websocket session opened", "session", client.session.ID(), "username", entry.username)

	go client.writePump()
	go client.readPump()
}

// readPump reads client messages until the connection fails, then ends
// the session.
func (c *wsClient) readPump() {
	defer func() {
		c.server.hub.Unregister(c.session)
		c.conn.Close()
	}()

	cfg := c.server.wsCfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", "error", err, "session", c.session.ID())
			} else {
				c.server.logger.Debug("websocket closed", "error", err, "session", c.session.ID())
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump delivers session messages, replies and pings. It returns when
// the session closes or a write fails.
func (c *wsClient) writePump() {
	cfg := c.server.wsCfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case <-c.session.Ready():
			msgs, err := c.session.Drain()
			if err != nil {
				c.closeWith(err, writeWait)
				return
			}
			for _, msg := range msgs {
				if !c.write(encodeBroadcast(msg), writeWait) {
					return
				}
			}
		case data := <-c.replies:
			if !c.write(data, writeWait) {
				return
			}
		case <-c.session.Done():
			c.closeWith(c.session.Err(), writeWait)
			return
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) write(data []byte, wait time.Duration) bool {
	if data == nil {
		return true
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(wait))
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// closeWith sends a close frame explaining why the session ended.
func (c *wsClient) closeWith(err error, wait time.Duration) {
	code, text := websocket.CloseNormalClosure, "session closed"
	if errors.Is(err, broadcast.ErrSlowConsumer) {
		code, text = websocket.ClosePolicyViolation, "slow consumer"
	}
	//nolint:errcheck // Best-effort close message
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wait))
}

// encodeBroadcast renders a session message for the wire.
func encodeBroadcast(msg broadcast.Message) []byte {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Topic:     msg.Topic,
		Seq:       msg.Seq,
		EventType: msg.Type,
		Timestamp: msg.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   msg.Payload,
	})
	if err != nil {
		return nil
	}
	return data
}

// handleMessage processes an incoming WebSocket message.
func (c *wsClient) handleMessage(data []byte) {
	var msg wsRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", ErrCodeBadRequest, "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	case WSTypeCommand:
		c.handleCommand(msg)
	default:
		c.sendError(msg.ID, ErrCodeBadRequest, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe adds topics to the session.
func (c *wsClient) handleSubscribe(msg wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, ErrCodeBadRequest, "invalid subscribe payload")
		return
	}
	if err := c.session.Subscribe(sub.Topics...); err != nil {
		c.sendError(msg.ID, ErrCodeBadRequest, err.Error())
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": c.session.Topics(),
	})
}

// handleUnsubscribe removes topics from the session.
func (c *wsClient) handleUnsubscribe(msg wsRequest) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, ErrCodeBadRequest, "invalid unsubscribe payload")
		return
	}
	c.session.Unsubscribe(sub.Topics...)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"subscribed": c.session.Topics(),
	})
}

// handleCommand forwards a command to the hub's command handler with the
// session's identity.
func (c *wsClient) handleCommand(msg wsRequest) {
	var cmd broadcast.Command
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		c.sendError(msg.ID, ErrCodeBadRequest, "invalid command payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, ctxKeyClaims, c.claims)

	result, err := c.server.hub.HandleCommand(ctx, cmd)
	switch {
	case errors.Is(err, auth.ErrForbidden):
		c.sendError(msg.ID, ErrCodeForbidden, err.Error())
	case errors.Is(err, broadcast.ErrNoCommandHandler):
		c.sendError(msg.ID, ErrCodeUnavailable, err.Error())
	case err != nil:
		c.sendError(msg.ID, motion.Reason(err), err.Error())
	default:
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
			"action": cmd.Action,
			"result": result,
		})
	}
}

// trySend queues a reply without blocking the read loop. A client that is
// not reading its replies loses them.
func (c *wsClient) trySend(data []byte) {
	select {
	case c.replies <- data:
	default:
		c.server.logger.Debug("websocket reply dropped", "session", c.session.ID())
	}
}

// sendResponse sends a response message to the client.
func (c *wsClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *wsClient) sendError(id, code, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"code": code, "message": message})
}
