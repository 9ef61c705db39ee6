package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/pricebet/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// Channel names clients may subscribe to.
const (
	SettlementChannel   = "ch:settlement"
	marketChannelPrefix = "ch:market:"
)

// Frame formats.
const (
	FormatJSON  = "json"
	FormatProto = "proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan frame
	format string
	subs   map[string]bool
	mu     sync.RWMutex
}

// frame is an encoded message plus the websocket message type it goes out as.
type frame struct {
	kind int
	data []byte
}

// subscribeMsg is the JSON message a client sends to change subscriptions.
// Channels ending in "*" match by prefix.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// envelope wraps everything the hub sends.
type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload"`
}

// Hub fans settlement events out to connected WebSocket clients. Each event
// is routed on ch:settlement and on its market's ch:market:<id> channel.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// Config captures metadata reported to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a Hub.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run delivers events until ctx is cancelled or events is closed.
func (h *Hub) Run(ctx context.Context, events <-chan domain.Event) error {
	defer close(h.done)
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.String("format", c.format),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case ev, ok := <-events:
			if !ok {
				h.logger.Warn("ws: event source closed")
				return nil
			}
			h.deliver(ev)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// deliver encodes ev at most once per format and sends it to every
// subscribed client. Slow clients drop the message.
func (h *Hub) deliver(ev domain.Event) {
	channels := []string{SettlementChannel}
	if ev.MarketID != uuid.Nil {
		channels = append(channels, marketChannelPrefix+ev.MarketID.String())
	}

	encoded := make(map[string]frame, 2)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		channel, ok := c.match(channels)
		if !ok {
			continue
		}
		key := c.format + "|" + channel
		f, ok := encoded[key]
		if !ok {
			var err error
			f, err = encode(c.format, envelope{Type: "event", Channel: channel, Payload: ev})
			if err != nil {
				h.logger.Error("ws: encode event failed",
					slog.String("format", c.format),
					slog.String("error", err.Error()),
				)
				continue
			}
			encoded[key] = f
		}
		select {
		case c.send <- f:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// encode renders env as a JSON text frame or as a binary
// google.protobuf.Struct frame.
func encode(format string, env envelope) (frame, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return frame{}, fmt.Errorf("ws: marshal: %w", err)
	}
	if format != FormatProto {
		return frame{kind: websocket.TextMessage, data: data}, nil
	}

	// Round-trip through JSON so every value is a type structpb accepts.
	var generic map[string]any
	if err := json.Unmarshal(data, &generic); err != nil {
		return frame{}, fmt.Errorf("ws: unmarshal: %w", err)
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return frame{}, fmt.Errorf("ws: struct: %w", err)
	}
	bin, err := proto.Marshal(st)
	if err != nil {
		return frame{}, fmt.Errorf("ws: proto marshal: %w", err)
	}
	return frame{kind: websocket.BinaryMessage, data: bin}, nil
}

// HandleWS upgrades the request and registers the client. Query params:
// format=json|proto (default json) and market=<id> to start subscribed to a
// single market instead of the global channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatProto:
	default:
		http.Error(w, `{"error":"format must be json or proto","code":"invalid_input"}`, http.StatusBadRequest)
		return
	}

	subs := map[string]bool{SettlementChannel: true}
	if m := r.URL.Query().Get("market"); m != "" {
		id, err := uuid.Parse(m)
		if err != nil {
			http.Error(w, `{"error":"invalid market id","code":"invalid_input"}`, http.StatusBadRequest)
			return
		}
		subs = map[string]bool{marketChannelPrefix + id.String(): true}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan frame, sendBufferSize),
		format: format,
		subs:   subs,
	}

	c.sendHello()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendHello tells the client the connection is live and what it is
// subscribed to.
func (c *client) sendHello() {
	c.mu.RLock()
	channels := make([]any, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.RUnlock()

	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	f, err := encode(c.format, envelope{
		Type: "hello",
		Payload: map[string]any{
			"mode":           c.hub.mode,
			"format":         c.format,
			"channels":       channels,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- f:
	default:
	}
}

// match returns the first of channels the client is subscribed to.
func (c *client) match(channels []string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, channel := range channels {
		if c.subs[channel] {
			return channel, true
		}
		for sub := range c.subs {
			if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, strings.TrimSuffix(sub, "*")) {
				return channel, true
			}
		}
	}
	return "", false
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(f.kind, f.data); err != nil {
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
