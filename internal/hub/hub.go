// Package hub serves the shell's terminal to websocket clients. A Hub is the
// shell.Terminal of a driver: raw output is broadcast to every client and
// client keystrokes are forwarded to the shell.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/shellbridge/internal/parser"
	"github.com/user/shellbridge/internal/shell"
)

const (
	defaultBatchInterval = 30 * time.Millisecond
	defaultScrollback    = 64 * 1024
	terminalKey          = "terminal"
	// eventPriority runs hub handlers after the history recorder.
	eventPriority = -10
)

// RunFunc runs a command on behalf of a client. Errors are sent back to
// that client only.
type RunFunc func(ctx context.Context, sessionID, command string) error

// EventSource is implemented by *shell.Driver.
type EventSource interface {
	AddEventHandler(event shell.Event, fn shell.Handler, priority int) shell.HandlerID
}

type Hub struct {
	logger        *slog.Logger
	token         string
	batchInterval time.Duration
	scrollbackMax int
	classifier    *parser.Parser

	clients      map[string]*Client
	mu           sync.RWMutex
	register     chan *Client
	unregister   chan *Client
	broadcast    chan hubBroadcast
	rateLimiter  *RateLimiter
	batchEnabled atomic.Bool
	running      atomic.Bool

	sizeMu sync.RWMutex
	cols   int
	rows   int

	scrollMu   sync.Mutex
	scrollback []byte

	hooksMu  sync.RWMutex
	onData   func(string)
	onResize func(cols, rows int)
	onRun    RunFunc
}

type Option func(*Hub)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithSize sets the terminal size reported before any client resizes.
func WithSize(cols, rows int) Option {
	return func(h *Hub) {
		h.cols = cols
		h.rows = rows
	}
}

func WithBatchInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.batchInterval = d
		}
	}
}

// WithClassifier feeds terminal output to p and broadcasts its messages.
func WithClassifier(p *parser.Parser) Option {
	return func(h *Hub) { h.classifier = p }
}

func New(token string, opts ...Option) *Hub {
	h := &Hub{
		logger:        slog.Default(),
		token:         token,
		batchInterval: defaultBatchInterval,
		scrollbackMax: defaultScrollback,
		clients:       make(map[string]*Client),
		register:      make(chan *Client, 16),
		unregister:    make(chan *Client, 16),
		broadcast:     make(chan hubBroadcast, 256),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.batchEnabled.Store(true)
	h.rateLimiter = NewRateLimiter(h.batchInterval, func(_ string, text string) {
		h.sendTerminalOutput(text)
	})
	return h
}

var _ shell.Terminal = (*Hub)(nil)

func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	if h.classifier != nil {
		go h.forwardMessages(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.rateLimiter.FlushAll()
			h.mu.Lock()
			for _, c := range h.clients {
				c.closeSend()
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.sendHello(client)
			go client.writePump(ctx)
			go client.readPump(ctx)
			h.logger.Info("client connected", "client", client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client", client.id, "total", h.ClientCount())

		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) broadcastToClients(msg hubBroadcast) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.wantsSession(msg.sessionID) {
			continue
		}
		if !c.trySend(msg.data) {
			h.logger.Warn("client send buffer full, dropping message", "client", c.id)
		}
	}
}

// HandleWebSocket authenticates with the token query parameter and
// upgrades the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- client:
	default:
		h.logger.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

func (h *Hub) sendHello(c *Client) {
	cols, rows := h.size()
	h.scrollMu.Lock()
	scrollback := string(h.scrollback)
	h.scrollMu.Unlock()

	data, err := json.Marshal(HelloMessage{Type: TypeHello, ClientID: c.id, Cols: cols, Rows: rows, Scrollback: scrollback})
	if err != nil {
		h.logger.Error("marshal hello message", "error", err)
		return
	}
	c.trySend(data)
}

// Cols implements shell.Terminal.
func (h *Hub) Cols() int {
	cols, _ := h.size()
	return cols
}

// Rows implements shell.Terminal.
func (h *Hub) Rows() int {
	_, rows := h.size()
	return rows
}

func (h *Hub) size() (int, int) {
	h.sizeMu.RLock()
	defer h.sizeMu.RUnlock()
	return h.cols, h.rows
}

// Write implements shell.Terminal. Output is kept as scrollback for new
// clients, batched to connected ones and fed to the classifier.
func (h *Hub) Write(chunk string) {
	h.appendScrollback(chunk)

	if h.batchEnabled.Load() {
		h.rateLimiter.Add(terminalKey, chunk)
	} else {
		h.sendTerminalOutput(chunk)
	}

	if h.classifier != nil {
		h.classifier.Feed(terminalKey, chunk)
	}
}

// OnData implements shell.Terminal.
func (h *Hub) OnData(fn func(data string)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onData = fn
}

func (h *Hub) SetOnResize(fn func(cols, rows int)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onResize = fn
}

func (h *Hub) SetOnRun(fn RunFunc) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onRun = fn
}

func (h *Hub) SetBatchEnabled(enabled bool) {
	h.batchEnabled.Store(enabled)
}

// FlushPendingOutput sends batched terminal output now.
func (h *Hub) FlushPendingOutput() {
	h.rateLimiter.FlushAll()
}

// Activity reports whether the terminal is producing output, waiting on a
// prompt or idle. Without a classifier it is always idle.
func (h *Hub) Activity() parser.Status {
	if h.classifier == nil {
		return parser.StatusIdle
	}
	return h.classifier.Status(terminalKey)
}

func (h *Hub) appendScrollback(chunk string) {
	h.scrollMu.Lock()
	defer h.scrollMu.Unlock()
	h.scrollback = append(h.scrollback, chunk...)
	if over := len(h.scrollback) - h.scrollbackMax; over > 0 {
		h.scrollback = append(h.scrollback[:0], h.scrollback[over:]...)
	}
}

func (h *Hub) sendTerminalOutput(text string) {
	h.enqueue(TerminalDataMessage{Type: TypeTerminalOutput, Text: text}, "")
}

// BroadcastOutput sends a classified output block.
func (h *Hub) BroadcastOutput(msg parser.Message) {
	actions := make([]ActionMessage, 0, len(msg.Actions))
	for _, a := range msg.Actions {
		actions = append(actions, ActionMessage{Label: a.Label, Keys: a.Keys})
	}
	h.enqueue(OutputMessage{
		Type:    TypeOutput,
		ID:      msg.ID,
		Text:    msg.Text,
		Class:   string(msg.Class),
		Actions: actions,
		Ts:      msg.Timestamp.Unix(),
	}, "")
}

// BroadcastEvent translates a driver notification for clients. Terminal
// output still batched when a command ends is sent ahead of the outcome.
func (h *Hub) BroadcastEvent(n shell.Notification) {
	now := time.Now().Unix()
	if n.Event == shell.EventCommandFinished || n.Event == shell.EventError {
		h.FlushPendingOutput()
	}
	switch n.Event {
	case shell.EventInitialized:
		h.enqueue(CommandMessage{Type: TypeReady, Ts: now}, "")
	case shell.EventCommandStarted:
		h.enqueue(CommandMessage{Type: TypeCommandStarted, SessionID: n.SessionID, Command: n.Command, Ts: now}, n.SessionID)
	case shell.EventCommandFinished:
		msg := CommandMessage{Type: TypeCommandFinished, SessionID: n.SessionID, Ts: now}
		if n.Result != nil {
			code := n.Result.ExitCode
			msg.Output = n.Result.Output
			msg.ExitCode = &code
		}
		h.enqueue(msg, n.SessionID)
	case shell.EventError:
		text := "unknown error"
		if n.Err != nil {
			text = n.Err.Error()
		}
		h.enqueue(ErrorMessage{Type: TypeError, SessionID: n.SessionID, Message: text}, n.SessionID)
	}
}

// Attach broadcasts every driver event from src.
func (h *Hub) Attach(src EventSource) {
	for _, ev := range []shell.Event{shell.EventInitialized, shell.EventCommandStarted, shell.EventCommandFinished, shell.EventError} {
		src.AddEventHandler(ev, h.BroadcastEvent, eventPriority)
	}
}

func (h *Hub) enqueue(v any, sessionID string) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal broadcast message", "error", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, sessionID: sessionID}:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) forwardMessages(ctx context.Context) {
	msgs := h.classifier.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			h.BroadcastOutput(msg)
		}
	}
}

func (h *Hub) SendError(client *Client, message string) {
	data, err := json.Marshal(ErrorMessage{Type: TypeError, Message: message})
	if err != nil {
		return
	}
	client.trySend(data)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleInput(keys string) {
	h.hooksMu.RLock()
	fn := h.onData
	h.hooksMu.RUnlock()
	if fn != nil {
		fn(keys)
	}
}

func (h *Hub) handleResize(cols, rows int) {
	h.sizeMu.Lock()
	h.cols, h.rows = cols, rows
	h.sizeMu.Unlock()

	h.hooksMu.RLock()
	fn := h.onResize
	h.hooksMu.RUnlock()
	if fn != nil {
		fn(cols, rows)
	}
}

func (h *Hub) handleRun(ctx context.Context, c *Client, sessionID, command string) {
	h.hooksMu.RLock()
	fn := h.onRun
	h.hooksMu.RUnlock()
	if fn == nil {
		h.SendError(c, "running commands is not enabled")
		return
	}
	if err := fn(ctx, sessionID, command); err != nil {
		h.logger.Warn("run from client failed", "client", c.id, "session", sessionID, "error", err)
		h.SendError(c, err.Error())
	}
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.running.Load() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.logger.Warn("unregister channel full, forcing close", "client", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}
