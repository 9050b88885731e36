package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/drobiss/ChatOnWrist-sub000/domain/entities"
	"github.com/drobiss/ChatOnWrist-sub000/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Watch clients present no browser origin.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub maintains the set of active socket-transport connections.
type Hub struct {
	// Registered clients, keyed by connection id.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	mu sync.RWMutex

	registry *relay.Registry
	logger   *zap.Logger
}

// NewHub creates a socket-transport hub over the shared session registry.
func NewHub(registry *relay.Registry, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.connID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("connID", client.connID),
				zap.String("deviceID", client.identity.DeviceID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.connID]; ok {
				delete(h.clients, client.connID)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered",
				zap.String("connID", client.connID),
				zap.String("deviceID", client.identity.DeviceID))
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WriteData is one outbound websocket message.
type WriteData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type    int
	Payload []byte
}

// Client is a middleman between one websocket connection and the relay.
// Each connection drives at most one conversation at a time.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	connID   string
	identity entities.DeviceIdentity
	logger   *zap.Logger

	mu      sync.Mutex
	session *relay.Session
}

// HandleWebSocket upgrades an authenticated request and starts the client
// pumps. The identity must already be validated by the auth gate.
func HandleWebSocket(hub *Hub, c echo.Context, identity entities.DeviceIdentity, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		connID:   uuid.NewString(),
		identity: identity,
		logger:   logger,
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection into the relay.
func (c *Client) readPump() {
	defer func() {
		c.endActiveSession()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processCommand(message)
		case websocket.BinaryMessage:
			// Raw binary frames skip the command envelope entirely.
			c.processRawAudio(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps relay events to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processCommand parses a tagged text frame and dispatches it.
func (c *Client) processCommand(message []byte) {
	cmd, err := relay.ParseCommand(message)
	if err != nil {
		// Dropped with a warning; the connection stays open.
		c.logger.Warn("Malformed client frame",
			zap.String("deviceID", c.identity.DeviceID),
			zap.Error(err))
		c.sendError("malformed frame")
		return
	}

	switch cmd.Type {
	case relay.CommandStartConversation:
		c.handleStart(cmd)
	case relay.CommandAudioChunk:
		data, err := cmd.AudioData()
		if err != nil {
			c.logger.Warn("Invalid audio payload",
				zap.String("deviceID", c.identity.DeviceID),
				zap.Error(err))
			c.sendError("invalid audio payload")
			return
		}
		c.appendAudio(data)
	case relay.CommandEndUtterance:
		c.commitUtterance()
	case relay.CommandEndConversation:
		c.endActiveSession()
	}
}

// handleStart creates (or replaces) the conversation for this connection.
func (c *Client) handleStart(cmd relay.Command) {
	c.mu.Lock()
	previous := c.session
	c.mu.Unlock()
	if previous != nil {
		// One conversation per socket; a fresh start supersedes.
		c.hub.registry.End(previous.ID())
	}

	sess := c.hub.registry.Start(cmd.ConversationID, c.identity, cmd.ConversationHistory)

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	go c.forwardEvents(sess)
}

// processRawAudio treats a binary frame as one audio chunk for the active
// conversation.
func (c *Client) processRawAudio(data []byte) {
	c.appendAudio(data)
}

func (c *Client) appendAudio(data []byte) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		c.logger.Warn("Audio chunk without an active conversation",
			zap.String("deviceID", c.identity.DeviceID))
		c.sendError("no active conversation")
		return
	}

	if err := sess.AppendAudio(data); err != nil {
		switch {
		case errors.Is(err, relay.ErrSessionClosed):
			// Trailing audio after close is dropped.
			c.logger.Debug("Dropped audio for closing session",
				zap.String("conversationID", sess.ID()))
		case errors.Is(err, relay.ErrQueueFull):
			// The session already emitted an error event.
			c.logger.Warn("Pre-ready audio queue overflow",
				zap.String("conversationID", sess.ID()))
		default:
			c.logger.Error("Failed to forward audio",
				zap.String("conversationID", sess.ID()),
				zap.Error(err))
		}
	}
}

// commitUtterance marks the current utterance complete, for clients that
// segment speech themselves instead of relying on upstream voice activity
// detection.
func (c *Client) commitUtterance() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		c.logger.Warn("Utterance end without an active conversation",
			zap.String("deviceID", c.identity.DeviceID))
		c.sendError("no active conversation")
		return
	}

	if err := sess.EndUtterance(); err != nil {
		c.logger.Debug("Utterance commit failed",
			zap.String("conversationID", sess.ID()),
			zap.Error(err))
	}
}

// endActiveSession gracefully ends this connection's conversation, if any.
func (c *Client) endActiveSession() {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess != nil {
		c.hub.registry.End(sess.ID())
	}
}

// forwardEvents serializes relay events onto the socket until the session
// is done, draining anything still buffered afterwards.
func (c *Client) forwardEvents(sess *relay.Session) {
	for {
		select {
		case ev := <-sess.Events():
			c.writeEvent(ev)
		case <-sess.Done():
			for {
				select {
				case ev := <-sess.Events():
					c.writeEvent(ev)
				default:
					c.mu.Lock()
					if c.session == sess {
						c.session = nil
					}
					c.mu.Unlock()
					return
				}
			}
		}
	}
}

func (c *Client) writeEvent(ev entities.Event) {
	payload, err := relay.EncodeEvent(ev)
	if err != nil {
		c.logger.Error("Failed to encode event",
			zap.String("type", string(ev.Type)),
			zap.Error(err))
		return
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping event",
			zap.String("type", string(ev.Type)))
	}
}

func (c *Client) sendError(message string) {
	payload, err := relay.EncodeEvent(entities.Event{
		Type:    entities.EventError,
		Message: message,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
	}
}
