// Package stream fans market data out to WebSocket clients: per-connection
// symbol subscriptions, an always-on upstream tick feed, and broadcast
// channels for engine and monitor updates.
package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/universe"
)

const (
	sendBuffer     = 256
	dispatchBuffer = 4096
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

// Upstream is the broker tick feed the hub drives subscriptions on.
type Upstream interface {
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
}

// wsConn is the slice of *websocket.Conn the hub uses, narrowed so tests
// can drive clients without a network.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client is one connected WebSocket consumer.
type Client struct {
	conn  wsConn
	send  chan []byte
	hub   *Hub
	once  sync.Once
	close chan struct{}
}

// clientRequest is the inbound protocol: subscribe/unsubscribe by symbol.
type clientRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Hub owns the connection registry and both subscription maps. The
// always-on universe stays subscribed upstream across zero-client
// intervals so the tick cache is warm when monitors read it.
type Hub struct {
	upstream Upstream
	alwaysOn map[string]bool
	log      zerolog.Logger

	mu       sync.RWMutex
	clients  map[*Client]bool
	byConn   map[*Client]map[string]bool
	bySymbol map[string]map[*Client]bool

	tickMu sync.RWMutex
	ticks  map[string]domain.Tick

	dispatch chan domain.Tick
}

// NewHub builds the hub. upstream may be nil when no broker feed is
// configured; subscriptions then only shape client fan-out.
func NewHub(upstream Upstream, log zerolog.Logger) *Hub {
	alwaysOn := make(map[string]bool)
	for _, sym := range universe.AlwaysOn() {
		alwaysOn[sym] = true
	}
	return &Hub{
		upstream: upstream,
		alwaysOn: alwaysOn,
		log:      log.With().Str("component", "stream_hub").Logger(),
		clients:  make(map[*Client]bool),
		byConn:   make(map[*Client]map[string]bool),
		bySymbol: make(map[string]map[*Client]bool),
		ticks:    make(map[string]domain.Tick),
		dispatch: make(chan domain.Tick, dispatchBuffer),
	}
}

// SetUpstream attaches the broker feed. Must be called before Start; the
// hub and the ticker reference each other, so one side is wired late.
func (h *Hub) SetUpstream(upstream Upstream) {
	h.upstream = upstream
}

// Start subscribes the always-on universe upstream and runs the tick
// dispatcher until ctx is done.
func (h *Hub) Start(ctx context.Context) {
	if h.upstream != nil {
		symbols := make([]string, 0, len(h.alwaysOn))
		for sym := range h.alwaysOn {
			symbols = append(symbols, sym)
		}
		if err := h.upstream.Subscribe(symbols); err != nil {
			h.log.Warn().Err(err).Msg("always-on subscribe failed")
		}
	}
	go h.dispatchLoop(ctx)
}

// Dispatch queues one upstream tick. Full queue drops the tick with a log;
// the feed must never block on slow consumers.
func (h *Hub) Dispatch(tick domain.Tick) {
	select {
	case h.dispatch <- tick:
	default:
		h.log.Warn().Str("symbol", tick.Symbol).Msg("tick queue full, dropping")
	}
}

func (h *Hub) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-h.dispatch:
			h.tickMu.Lock()
			h.ticks[tick.Symbol] = tick
			h.tickMu.Unlock()
			h.broadcastTick(tick)
		}
	}
}

// LastTick serves the most recent tick per symbol. Monitors use this to
// avoid quote round trips for symbols already on the feed.
func (h *Hub) LastTick(symbol string) (domain.Tick, bool) {
	h.tickMu.RLock()
	defer h.tickMu.RUnlock()
	tick, ok := h.ticks[symbol]
	return tick, ok
}

// Connect registers a client, starts its write pump and sends the welcome.
func (h *Hub) Connect(conn wsConn) *Client {
	c := &Client{
		conn:  conn,
		send:  make(chan []byte, sendBuffer),
		hub:   h,
		close: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = true
	h.byConn[c] = make(map[string]bool)
	h.mu.Unlock()

	go c.writePump()
	c.enqueueJSON(map[string]any{"type": "connected"})
	return c
}

// Subscribe adds symbols to a client. Symbols new to the whole hub are
// subscribed upstream.
func (h *Hub) Subscribe(c *Client, symbols []string) {
	var fresh []string
	h.mu.Lock()
	subs, ok := h.byConn[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, sym := range symbols {
		if sym == "" || subs[sym] {
			continue
		}
		subs[sym] = true
		if h.bySymbol[sym] == nil {
			h.bySymbol[sym] = make(map[*Client]bool)
			if !h.alwaysOn[sym] {
				fresh = append(fresh, sym)
			}
		}
		h.bySymbol[sym][c] = true
	}
	h.mu.Unlock()

	if h.upstream != nil && len(fresh) > 0 {
		if err := h.upstream.Subscribe(fresh); err != nil {
			h.log.Warn().Err(err).Strs("symbols", fresh).Msg("upstream subscribe failed")
		}
	}
	c.enqueueJSON(map[string]any{"type": "subscribed", "symbols": symbols})
}

// Unsubscribe removes symbols from a client. Symbols left with zero
// subscribers are dropped upstream unless always-on.
func (h *Hub) Unsubscribe(c *Client, symbols []string) {
	var idle []string
	h.mu.Lock()
	subs, ok := h.byConn[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	for _, sym := range symbols {
		if !subs[sym] {
			continue
		}
		delete(subs, sym)
		if set := h.bySymbol[sym]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.bySymbol, sym)
				if !h.alwaysOn[sym] {
					idle = append(idle, sym)
				}
			}
		}
	}
	h.mu.Unlock()

	if h.upstream != nil && len(idle) > 0 {
		if err := h.upstream.Unsubscribe(idle); err != nil {
			h.log.Warn().Err(err).Strs("symbols", idle).Msg("upstream unsubscribe failed")
		}
	}
	c.enqueueJSON(map[string]any{"type": "unsubscribed", "symbols": symbols})
}

// Disconnect removes the client and releases its subscriptions.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	subs := h.byConn[c]
	delete(h.clients, c)
	delete(h.byConn, c)
	var idle []string
	for sym := range subs {
		if set := h.bySymbol[sym]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.bySymbol, sym)
				if !h.alwaysOn[sym] {
					idle = append(idle, sym)
				}
			}
		}
	}
	h.mu.Unlock()

	if h.upstream != nil && len(idle) > 0 {
		if err := h.upstream.Unsubscribe(idle); err != nil {
			h.log.Warn().Err(err).Strs("symbols", idle).Msg("upstream unsubscribe failed")
		}
	}
	c.shutdown()
}

// BroadcastAll sends one message to every client. Clients whose send
// buffer is full are dropped in place.
func (h *Hub) BroadcastAll(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.log.Warn().Err(err).Msg("broadcast marshal failed")
		return
	}

	var dead []*Client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.Disconnect(c)
	}
}

// broadcastTick fans one tick out to its subscriber set only.
func (h *Hub) broadcastTick(tick domain.Tick) {
	h.mu.RLock()
	set := h.bySymbol[tick.Symbol]
	if len(set) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(map[string]any{
		"type":   "tick",
		"symbol": tick.Symbol,
		"data": map[string]any{
			"last_price":      tick.LastPrice,
			"volume":          tick.Volume,
			"change":          tick.Change,
			"change_percent":  tick.ChangePercent,
			"last_trade_time": tick.LastTradeTime,
			"oi":              tick.OI,
			"timestamp":       tick.Timestamp,
		},
	})
	if err != nil {
		return
	}

	var dead []*Client
	for _, c := range targets {
		select {
		case c.send <- payload:
		default:
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		h.Disconnect(c)
	}
}

// ClientCount reports connected clients, for the health endpoint.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribedSymbols lists symbols with at least one client subscriber.
func (h *Hub) SubscribedSymbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.bySymbol))
	for sym := range h.bySymbol {
		out = append(out, sym)
	}
	return out
}

// ReadLoop consumes client protocol messages until the connection drops,
// then disconnects the client. Run on its own goroutine per connection.
func (h *Hub) ReadLoop(c *Client) {
	defer h.Disconnect(c)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("client read error")
			}
			return
		}
		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.enqueueJSON(map[string]any{"type": "error", "message": "malformed request"})
			continue
		}
		switch req.Action {
		case "subscribe":
			h.Subscribe(c, req.Symbols)
		case "unsubscribe":
			h.Unsubscribe(c, req.Symbols)
		default:
			c.enqueueJSON(map[string]any{"type": "error", "message": "unknown action " + req.Action})
		}
	}
}

func (c *Client) enqueueJSON(message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) shutdown() {
	c.once.Do(func() { close(c.close) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.close:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
