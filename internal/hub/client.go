package hub

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	pingInterval  = 30 * time.Second
	readLimit     = 32768
	sendQueueSize = 256
)

type Client struct {
	id            string
	conn          *websocket.Conn
	send          chan []byte
	sendMu        sync.Mutex
	sendClosed    bool
	hub           *Hub
	subMu         sync.RWMutex
	subscribeAll  bool
	subscriptions map[string]struct{}
}

func newClient(conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		id:            uuid.NewString(),
		conn:          conn,
		send:          make(chan []byte, sendQueueSize),
		hub:           hub,
		subscribeAll:  true,
		subscriptions: make(map[string]struct{}),
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(readLimit)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.hub.logger.Debug("client read ended", "client", c.id, "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Warn("invalid client message", "client", c.id, "error", err)
			c.hub.SendError(c, "invalid message format")
			continue
		}

		switch msg.Type {
		case TypeTerminalInput:
			keys := msg.Keys
			if msg.Key != "" {
				keys = mapNamedKey(msg.Key)
			}
			if keys != "" {
				c.hub.handleInput(keys)
			}
		case TypeTerminalResize:
			if msg.Cols > 0 && msg.Rows > 0 {
				c.hub.handleResize(msg.Cols, msg.Rows)
			}
		case TypeRun:
			command := strings.TrimSpace(msg.Command)
			if command == "" {
				c.hub.SendError(c, "command is required")
				continue
			}
			sessionID := msg.SessionID
			if sessionID == "" {
				sessionID = c.id
			}
			go c.hub.handleRun(ctx, c, sessionID, command)
		case TypeSubscribe:
			c.subscribe(msg.SessionID)
		default:
			c.hub.SendError(c, "unknown message type: "+msg.Type)
		}
	}
}

// trySend queues data without blocking. It reports false when the queue
// is full or the client is gone.
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

// subscribe narrows command events to the given session. An empty id
// restores the default of receiving everything.
func (c *Client) subscribe(sessionID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if sessionID == "" {
		c.subscribeAll = true
		c.subscriptions = make(map[string]struct{})
		return
	}
	c.subscribeAll = false
	c.subscriptions[sessionID] = struct{}{}
}

func (c *Client) wantsSession(sessionID string) bool {
	if sessionID == "" {
		return true
	}
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if c.subscribeAll {
		return true
	}
	_, ok := c.subscriptions[sessionID]
	return ok
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}
