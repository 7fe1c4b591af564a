// Package bridge connects presentation clients to the session over WebSocket.
//
// Every bus event is pushed to every client as {"type": ..., "data": ...}.
// Clients send actions such as {"type": "submit", "text": "what time is it"}.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/normanking/cortexassist/internal/bus"
	"github.com/normanking/cortexassist/internal/conversation"
	"github.com/normanking/cortexassist/internal/gateway"
	"github.com/normanking/cortexassist/internal/logging"
	"github.com/normanking/cortexassist/internal/reminders"
	"github.com/normanking/cortexassist/internal/session"
	"github.com/normanking/cortexassist/internal/speech"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Session is the conversation surface the bridge drives.
type Session interface {
	State() session.State
	Capabilities() speech.Capabilities
	Backend() *gateway.BackendConfig
	Submit(ctx context.Context, text string) error
	QuickAction(ctx context.Context, action string) error
	StartListening() bool
	StopListening()
	StopSpeaking()
}

// Reminders is the reminder surface the bridge drives.
type Reminders interface {
	Reminders() []gateway.Reminder
	Refresh(ctx context.Context) error
	Create(ctx context.Context, description, at, on string) (*gateway.CommandResult, error)
	Update(ctx context.Context, id int64, description, at, on string) error
	Delete(ctx context.Context, id int64) error
	ClearAll(ctx context.Context) error
	BeginEdit(r gateway.Reminder)
	SetEditDraft(d reminders.Draft) error
	CancelEdit()
	CommitEdit(ctx context.Context) error
	PendingEdit() (reminders.PendingEdit, bool)
	SetDraft(d reminders.Draft)
	Draft() reminders.Draft
	OpenPanel()
	ClosePanel()
	PanelOpen() bool
}

// Transcript is the read side of the conversation log.
type Transcript interface {
	Entries() []conversation.Entry
}

// Envelope is one server-to-client message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Action is one client-to-server message.
type Action struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	Action    string           `json:"action,omitempty"`
	ID        int64            `json:"id,omitempty"`
	Time      string           `json:"time,omitempty"`
	Date      string           `json:"date,omitempty"`
	Level     string           `json:"level,omitempty"`
	Component string           `json:"component,omitempty"`
	Limit     int              `json:"limit,omitempty"`
	Draft     *reminders.Draft `json:"draft,omitempty"`
}

// Snapshot is sent to a client when it connects.
type Snapshot struct {
	State        session.State          `json:"state"`
	Label        string                 `json:"label"`
	Capabilities speech.Capabilities    `json:"capabilities"`
	Backend      *gateway.BackendConfig `json:"backend,omitempty"`
	Entries      []conversation.Entry   `json:"entries"`
	Reminders    []gateway.Reminder     `json:"reminders"`
	PanelOpen    bool                   `json:"panelOpen"`
	Draft        reminders.Draft        `json:"draft"`
	Edit         *reminders.PendingEdit `json:"edit,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue reports false when the client is gone or its buffer is full.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub serves the WebSocket endpoint and fans bus events out to clients.
type Hub struct {
	sess     Session
	rem      Reminders
	log      Transcript
	logs     *logging.Logger
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub and subscribes it to every event on eventBus.
func NewHub(sess Session, rem Reminders, log Transcript, eventBus *bus.EventBus, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		sess:   sess,
		rem:    rem,
		log:    log,
		logger: logger.With().Str("component", "bridge").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[*client]struct{}),
	}

	eventBus.SubscribeAll(func(e bus.Event) {
		h.Broadcast(Envelope{Type: string(e.Type), Data: e.Data})
	})
	return h
}

// AttachLogs streams application log entries to clients and lets them read
// the history and write entries of their own.
func (h *Hub) AttachLogs(l *logging.Logger) {
	h.logs = l
	l.SetOnLog(func(entry logging.LogEntry) {
		h.Broadcast(Envelope{Type: "log.entry", Data: entry})
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues env for every client. A client whose buffer is full
// misses the message.
func (h *Hub) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", env.Type).Msg("Failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.enqueue(data) {
			h.logger.Warn().Str("type", env.Type).Msg("Client too slow, dropping event")
		}
	}
}

// Close disconnects every client and cancels in-flight actions.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.send(c, Envelope{Type: "snapshot", Data: h.snapshot()})

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) snapshot() Snapshot {
	st := h.sess.State()
	snap := Snapshot{
		State:        st,
		Label:        st.Label(),
		Capabilities: h.sess.Capabilities(),
		Backend:      h.sess.Backend(),
		Entries:      h.log.Entries(),
		Reminders:    h.rem.Reminders(),
		PanelOpen:    h.rem.PanelOpen(),
		Draft:        h.rem.Draft(),
	}
	if edit, ok := h.rem.PendingEdit(); ok {
		snap.Edit = &edit
	}
	return snap
}

func (h *Hub) send(c *client, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", env.Type).Msg("Failed to encode reply")
		return
	}
	c.enqueue(data)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
		h.logger.Info().Msg("Client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var a Action
		if err := c.conn.ReadJSON(&a); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		h.handle(c, a)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// handle runs one client action. Actions that reach the backend run in
// their own goroutine so the read loop keeps serving stop requests.
func (h *Hub) handle(c *client, a Action) {
	switch a.Type {
	case "submit":
		h.async(c, a.Type, func(ctx context.Context) error { return h.sess.Submit(ctx, a.Text) })
	case "quick_action":
		h.async(c, a.Type, func(ctx context.Context) error { return h.sess.QuickAction(ctx, a.Action) })
	case "start_listening":
		if !h.sess.StartListening() {
			h.send(c, Envelope{Type: "error", Data: map[string]any{"action": a.Type, "message": "listening unavailable"}})
		}
	case "stop_listening":
		h.sess.StopListening()
	case "stop_speaking":
		h.sess.StopSpeaking()

	case "reminders.refresh":
		h.async(c, a.Type, h.rem.Refresh)
	case "reminders.create":
		h.async(c, a.Type, func(ctx context.Context) error {
			_, err := h.rem.Create(ctx, a.Text, a.Time, a.Date)
			return err
		})
	case "reminders.update":
		h.async(c, a.Type, func(ctx context.Context) error { return h.rem.Update(ctx, a.ID, a.Text, a.Time, a.Date) })
	case "reminders.delete":
		h.async(c, a.Type, func(ctx context.Context) error { return h.rem.Delete(ctx, a.ID) })
	case "reminders.clear":
		h.async(c, a.Type, h.rem.ClearAll)
	case "reminders.begin_edit":
		for _, r := range h.rem.Reminders() {
			if r.ID == a.ID {
				h.rem.BeginEdit(r)
				return
			}
		}
		h.reject(c, a.Type, errors.New("reminder not found"))
	case "reminders.edit_draft":
		if a.Draft != nil {
			if err := h.rem.SetEditDraft(*a.Draft); err != nil {
				h.reject(c, a.Type, err)
			}
		}
	case "reminders.cancel_edit":
		h.rem.CancelEdit()
	case "reminders.commit_edit":
		h.async(c, a.Type, h.rem.CommitEdit)
	case "reminders.draft":
		if a.Draft != nil {
			h.rem.SetDraft(*a.Draft)
		}
	case "reminders.open_panel":
		h.rem.OpenPanel()
	case "reminders.close_panel":
		h.rem.ClosePanel()

	case "snapshot":
		h.send(c, Envelope{Type: "snapshot", Data: h.snapshot()})
	case "log":
		if h.logs != nil {
			h.writeLog(a)
		}
	case "logs.history":
		if h.logs != nil {
			h.send(c, Envelope{Type: "logs.history", Data: h.logs.GetHistory(a.Limit)})
		}

	default:
		h.reject(c, a.Type, errors.New("unknown action"))
	}
}

func (h *Hub) async(c *client, action string, fn func(context.Context) error) {
	go func() {
		if err := fn(h.ctx); err != nil {
			h.reject(c, action, err)
		}
	}()
}

func (h *Hub) reject(c *client, action string, err error) {
	h.logger.Debug().Err(err).Str("action", action).Msg("Action failed")
	h.send(c, Envelope{Type: "error", Data: map[string]any{"action": action, "message": err.Error()}})
}

// writeLog records an entry sent by the presentation layer.
func (h *Hub) writeLog(a Action) {
	component := a.Component
	if component == "" {
		component = "ui"
	}
	switch a.Level {
	case "debug":
		h.logs.Debug(component, a.Text, nil)
	case "warn":
		h.logs.Warn(component, a.Text, nil)
	case "error":
		h.logs.Error(component, a.Text, nil, nil)
	default:
		h.logs.Info(component, a.Text, nil)
	}
}
