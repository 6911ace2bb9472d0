package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the stream is token-authenticated, browsers on the LAN may serve the UI from anywhere
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client represents a WebSocket client connection
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	logger     *zap.Logger
	remoteAddr string
	userAgent  string

	authenticated bool
	permissions   []auth.Permission

	mu    sync.RWMutex
	names map[string]bool
}

// readPump reads client messages. The first one must authenticate; only
// then is the client registered with the hub and starts receiving.
func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			c.hub.leave(c)
		} else {
			close(c.send)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.String("client_id", c.id),
					zap.String("remote_addr", c.remoteAddr),
					zap.Error(err))
			}
			return
		}

		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			if !c.hub.join(c) {
				return
			}
			registered = true
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != MessageTypeAuth {
		c.reject("first message must be authentication")
		return false
	}

	var data AuthData
	if err := json.Unmarshal(msg.Data, &data); err != nil || data.Token == "" {
		c.reject("missing token in auth message")
		return false
	}

	permissions, err := c.hub.tokens.ValidateToken(context.Background(), data.Token, c.remoteAddr, c.userAgent)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.String("remote_addr", c.remoteAddr),
			zap.Error(err))
		c.reject("invalid or expired token")
		return false
	}
	if !auth.HasPermission(permissions, auth.PermRead) {
		c.reject("read permission required")
		return false
	}

	c.authenticated = true
	c.permissions = permissions
	c.conn.SetReadDeadline(time.Time{})

	names := make([]string, len(permissions))
	for i, p := range permissions {
		names[i] = string(p)
	}
	c.queue(NewMessage(MessageTypeAuthSuccess, AuthSuccessData{ClientID: c.id, Permissions: names}))

	c.logger.Info("WebSocket client authenticated",
		zap.String("client_id", c.id),
		zap.String("remote_addr", c.remoteAddr),
		zap.Strings("permissions", names))
	return true
}

func (c *Client) reject(reason string) {
	c.queue(NewMessage(MessageTypeAuthFailed, ErrorData{Reason: reason}))
}

// queue is only used before the client joins the hub, while readPump still
// owns the send channel.
func (c *Client) queue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.send <- data
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		var data SubscribeData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				c.logger.Debug("Bad subscribe message", zap.String("client_id", c.id), zap.Error(err))
				return
			}
		}
		c.mu.Lock()
		if msg.Type == MessageTypeSubscribe {
			if len(data.Names) == 0 {
				c.names = nil
			}
			for _, n := range data.Names {
				if c.names == nil {
					c.names = make(map[string]bool)
				}
				c.names[n] = true
			}
		} else {
			for _, n := range data.Names {
				delete(c.names, n)
			}
		}
		c.mu.Unlock()
		c.logger.Debug("WebSocket subscription changed",
			zap.String("client_id", c.id),
			zap.Strings("names", data.Names))
	default:
		c.logger.Debug("Ignoring client message",
			zap.String("client_id", c.id),
			zap.String("type", string(msg.Type)))
	}
}

// wants filters frame messages by the client's subscriptions.
func (c *Client) wants(msg Message) bool {
	if msg.Type != MessageTypeFrame {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.names == nil {
		return true
	}
	return c.names[msg.name]
}

// writePump owns all writes to the connection and closes it on exit.
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	client := &Client{
		id:         uuid.NewString(),
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
		userAgent:  r.UserAgent(),
	}

	go client.writePump()
	go client.readPump()
}
