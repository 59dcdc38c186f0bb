// Package ws streams committed auction events to WebSocket clients.
//
// A client connects to /ws, optionally narrowed to one auction with
// ?auction=0x..., and receives protobuf-encoded google.protobuf.Struct
// frames: one hub_status frame, then an event frame per committed event.
// Passing ?since=<stream id> first replays the durable event stream after
// that id, so a reconnecting client can catch up on what it missed.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// replayLimit caps the frames replayed on connect; it stays below the
	// send buffer so replay never blocks the handshake.
	replayLimit = sendBufferSize / 2
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are done by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans events from the signal bus out to connected clients.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mode      string
	startedAt time.Time

	mu      sync.RWMutex
	clients map[*client]struct{}

	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// outbound is an encoded frame and the auction channel it belongs to.
type outbound struct {
	channel string
	data    []byte
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan outbound, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run owns the client set until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	go h.forward(ctx)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping frame for slow client", slog.String("channel", msg.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward turns bus messages on every auction channel into frames.
func (h *Hub) forward(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, domain.AuctionChannelPattern)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", domain.AuctionChannelPattern),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				return
			}
			msg, ok := h.frame(payload, "")
			if !ok {
				continue
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) frame(payload []byte, streamID string) (outbound, bool) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.logger.Warn("ws: undecodable event", slog.String("error", err.Error()))
		return outbound{}, false
	}
	data, err := encodeEvent(ev, streamID)
	if err != nil {
		h.logger.Warn("ws: encode event", slog.String("error", err.Error()))
		return outbound{}, false
	}
	return outbound{channel: domain.AuctionChannel(ev.Auction), data: data}, true
}

// HandleWS upgrades the request and registers the client.
// GET /ws[?auction=0x...][&since=<stream id>]
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	subs := map[string]bool{domain.AuctionChannelPattern: true}
	if addr := r.URL.Query().Get("auction"); addr != "" {
		if !common.IsHexAddress(addr) {
			http.Error(w, "invalid auction address", http.StatusBadRequest)
			return
		}
		subs = map[string]bool{channelKey(domain.AuctionChannel(common.HexToAddress(addr))): true}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: subs,
	}

	// c.send is private until registration, so the status and replay
	// frames are queued ahead of any live event.
	var backlog [][]byte
	if since := r.URL.Query().Get("since"); since != "" {
		backlog = h.replay(r.Context(), c, since)
	}
	c.queueStatus(len(backlog))
	for _, frame := range backlog {
		c.send <- frame
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// replay encodes the stream entries after since that match c's
// subscriptions.
func (h *Hub) replay(ctx context.Context, c *client, since string) [][]byte {
	entries, err := h.bus.StreamRead(ctx, domain.EventStream, since, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay read failed",
			slog.String("since", since),
			slog.String("error", err.Error()),
		)
		return nil
	}
	var frames [][]byte
	for _, e := range entries {
		msg, ok := h.frame(e.Payload, e.ID)
		if ok && c.isSubscribed(msg.channel) {
			frames = append(frames, msg.data)
		}
	}
	return frames
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
