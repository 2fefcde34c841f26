// Package ws streams venue events to WebSocket clients. The hub holds one
// pattern subscription on the signal bus and hands each event to every
// connected feed whose kind filter accepts it.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxFilterSize = 4096
	queueSize     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config names the event channel prefix and the greeting sent on connect.
type Config struct {
	// Prefix is the event channel prefix, e.g. "venue:".
	Prefix    string
	Name      string
	StartedAt time.Time
}

// Hub fans events from the signal bus out to connected feeds.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger
	cfg    Config

	mu     sync.RWMutex
	feeds  map[*feed]struct{}
	closed bool
}

// NewHub creates a hub over bus. Run must be started for events to flow.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if cfg.Prefix == "" {
		cfg.Prefix = "venue:"
	}
	if cfg.Name == "" {
		cfg.Name = "venue"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}
	return &Hub{
		bus:    bus,
		logger: logger.With(slog.String("component", "ws")),
		cfg:    cfg,
		feeds:  make(map[*feed]struct{}),
	}
}

// Run relays events until ctx is cancelled, then disconnects every feed.
// A failed or closed subscription is logged; connected clients stay open
// until shutdown.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()

	pattern := h.cfg.Prefix + "*"
	events, err := h.bus.Subscribe(ctx, pattern)
	if err != nil {
		h.logger.ErrorContext(ctx, "subscribe failed",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
		<-ctx.Done()
		return ctx.Err()
	}
	h.logger.InfoContext(ctx, "subscribed", slog.String("pattern", pattern))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-events:
			if !ok {
				h.logger.WarnContext(ctx, "subscription closed", slog.String("pattern", pattern))
				events = nil
				continue
			}
			h.route(data)
		}
	}
}

func (h *Hub) route(data []byte) {
	var evt struct {
		Kind domain.EventKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &evt); err != nil || evt.Kind == "" {
		h.logger.Warn("skipping undecodable event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for f := range h.feeds {
		if !f.wants(evt.Kind) {
			continue
		}
		select {
		case f.queue <- data:
		default:
			h.logger.Warn("dropping event for slow client", slog.String("kind", string(evt.Kind)))
		}
	}
}

// HandleWS upgrades the request and streams events until either side
// closes. New clients receive every kind.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	f := h.attach()
	if f == nil {
		return
	}
	defer h.detach(f)

	go h.readFilters(conn, f)
	h.writeFeed(conn, f)
}

func (h *Hub) attach() *feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	f := &feed{queue: make(chan []byte, queueSize)}
	h.feeds[f] = struct{}{}
	h.logger.Info("client connected", slog.Int("clients", len(h.feeds)))
	return f
}

// detach closes f's queue once; route never sends on it afterwards.
func (h *Hub) detach(f *feed) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.feeds[f]; !ok {
		return
	}
	delete(h.feeds, f)
	close(f.queue)
	h.logger.Info("client disconnected", slog.Int("clients", len(h.feeds)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for f := range h.feeds {
		delete(h.feeds, f)
		close(f.queue)
	}
}

// readFilters applies filter messages until the connection fails.
func (h *Hub) readFilters(conn *websocket.Conn, f *feed) {
	defer h.detach(f)

	conn.SetReadLimit(maxFilterSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read failed", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(data, &msg) == nil {
			f.setKinds(msg.Kinds)
		}
	}
}

// writeFeed sends the greeting, then queued events and pings, until the
// queue is closed or a write fails.
func (h *Hub) writeFeed(conn *websocket.Conn, f *feed) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(h.status()); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case data, ok := <-f.queue:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

type statusMsg struct {
	Type    string        `json:"type"`
	Payload statusPayload `json:"payload"`
}

type statusPayload struct {
	Name          string `json:"name"`
	ChannelPrefix string `json:"channel_prefix"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (h *Hub) status() statusMsg {
	return statusMsg{
		Type: "venue_status",
		Payload: statusPayload{
			Name:          h.cfg.Name,
			ChannelPrefix: h.cfg.Prefix,
			UptimeSeconds: max(0, int64(time.Since(h.cfg.StartedAt).Seconds())),
		},
	}
}

// filterMsg replaces a client's kind filter. An empty list restores every
// kind.
type filterMsg struct {
	Kinds []domain.EventKind `json:"kinds"`
}

// feed is one connection's outgoing queue and kind filter.
type feed struct {
	queue chan []byte

	mu    sync.RWMutex
	kinds map[domain.EventKind]bool
}

func (f *feed) wants(kind domain.EventKind) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.kinds) == 0 || f.kinds[kind]
}

func (f *feed) setKinds(kinds []domain.EventKind) {
	set := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	f.mu.Lock()
	f.kinds = set
	f.mu.Unlock()
}
