package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/KevinKickass/OpenNosePort/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message when auth is enabled
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
	commandTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	logger        *zap.Logger
	authenticated bool
	permissions   []auth.Permission

	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool
}

func (c *Client) remoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// trySend queues data without blocking. It fails when the buffer is full or
// the client is shutting down.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	c.trySend(data)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if c.authenticated {
		c.conn.SetReadDeadline(time.Time{})
	} else {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr()))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != "auth" || msg.Token == "" {
		c.sendMessage(NewMessage(MessageTypeAuthFailed, map[string]string{
			"reason": "first message must be an auth message with a token",
		}))
		return false
	}

	permissions, err := c.hub.validator.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr()))
		c.sendMessage(NewMessage(MessageTypeAuthFailed, map[string]string{
			"reason": "invalid or expired token",
		}))
		return false
	}

	c.authenticated = true
	c.permissions = permissions
	c.conn.SetReadDeadline(time.Time{})

	c.sendMessage(NewMessage(MessageTypeAuthSuccess, map[string]interface{}{
		"permissions": permissions,
	}))
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr()),
		zap.Any("permissions", permissions))

	return c.hub.addClient(c)
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case "command":
		if c.hub.submitter == nil || !slices.Contains(c.permissions, auth.PermOperator) {
			c.sendMessage(NewErrorMessage("commands not permitted"))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		replies, err := c.hub.submitter.Submit(ctx, msg.Line)
		result := CommandResultData{Line: msg.Line, Replies: replies}
		if result.Replies == nil {
			result.Replies = []string{}
		}
		if err != nil {
			result.Error = err.Error()
		}
		c.sendMessage(NewMessage(MessageTypeCommandResult, result))

	default:
		c.logger.Debug("Ignoring client message",
			zap.String("remote_addr", c.remoteAddr()),
			zap.String("type", msg.Type))
	}
}

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

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// ServeWs upgrades the request. Without auth the client is registered
// immediately; otherwise only after a valid auth message.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	if !hub.authRequired() {
		client.authenticated = true
		client.permissions = []auth.Permission{auth.PermViewer, auth.PermOperator}
		if !hub.addClient(client) {
			conn.Close()
			return
		}
	}

	go client.writePump()
	go client.readPump()
}
