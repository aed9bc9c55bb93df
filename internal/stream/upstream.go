package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
)

const (
	defaultTickerURL    = "wss://ws.kite.trade"
	reconnectBaseDelay  = time.Second
	reconnectMaxDelay   = 30 * time.Second
	upstreamReadTimeout = 90 * time.Second
)

// TokenTable maps trading symbols to broker instrument tokens and back.
// The feed speaks tokens; everything else in the system speaks symbols.
type TokenTable struct {
	bySymbol map[string]uint32
	byToken  map[uint32]string
}

// NewTokenTable builds the two-way table from a symbol→token map.
func NewTokenTable(symbols map[string]uint32) *TokenTable {
	t := &TokenTable{
		bySymbol: make(map[string]uint32, len(symbols)),
		byToken:  make(map[uint32]string, len(symbols)),
	}
	for sym, token := range symbols {
		t.bySymbol[sym] = token
		t.byToken[token] = sym
	}
	return t
}

// Token resolves a symbol, false when unknown to the table.
func (t *TokenTable) Token(symbol string) (uint32, bool) {
	token, ok := t.bySymbol[symbol]
	return token, ok
}

// Symbol resolves an instrument token.
func (t *TokenTable) Symbol(token uint32) (string, bool) {
	sym, ok := t.byToken[token]
	return sym, ok
}

// tickSink receives parsed ticks; the hub's Dispatch satisfies it.
type tickSink interface {
	Dispatch(tick domain.Tick)
}

// KiteTicker maintains the upstream feed connection: token subscriptions,
// binary tick parsing, and reconnect with backoff. It implements Upstream.
type KiteTicker struct {
	url    string
	sink   tickSink
	tokens *TokenTable
	log    zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed map[uint32]bool
}

// NewKiteTicker builds the feed client. apiKey and accessToken go into the
// connection URL per the broker protocol.
func NewKiteTicker(apiKey, accessToken string, tokens *TokenTable, sink tickSink, log zerolog.Logger) *KiteTicker {
	return &KiteTicker{
		url:        fmt.Sprintf("%s?api_key=%s&access_token=%s", defaultTickerURL, apiKey, accessToken),
		sink:       sink,
		tokens:     tokens,
		log:        log.With().Str("component", "kite_ticker").Logger(),
		subscribed: make(map[uint32]bool),
	}
}

// Subscribe adds symbols to the feed. Unknown symbols are skipped; the
// subscription survives reconnects.
func (k *KiteTicker) Subscribe(symbols []string) error {
	tokens := k.resolve(symbols)
	if len(tokens) == 0 {
		return nil
	}
	k.mu.Lock()
	for _, token := range tokens {
		k.subscribed[token] = true
	}
	conn := k.conn
	k.mu.Unlock()
	if conn == nil {
		return nil
	}
	return k.send(conn, "subscribe", tokens)
}

// Unsubscribe drops symbols from the feed.
func (k *KiteTicker) Unsubscribe(symbols []string) error {
	tokens := k.resolve(symbols)
	if len(tokens) == 0 {
		return nil
	}
	k.mu.Lock()
	for _, token := range tokens {
		delete(k.subscribed, token)
	}
	conn := k.conn
	k.mu.Unlock()
	if conn == nil {
		return nil
	}
	return k.send(conn, "unsubscribe", tokens)
}

func (k *KiteTicker) resolve(symbols []string) []uint32 {
	tokens := make([]uint32, 0, len(symbols))
	for _, sym := range symbols {
		if token, ok := k.tokens.Token(sym); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func (k *KiteTicker) send(conn *websocket.Conn, action string, tokens []uint32) error {
	msg, err := json.Marshal(map[string]any{"a": action, "v": tokens})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Run connects and reads until ctx is done, reconnecting with exponential
// backoff. Each reconnect replays the current subscription set in quote
// mode.
func (k *KiteTicker) Run(ctx context.Context) {
	delay := reconnectBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}
		if err := k.session(ctx); err != nil {
			k.log.Warn().Err(err).Dur("retry_in", delay).Msg("feed session ended")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

func (k *KiteTicker) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, k.url, nil)
	if err != nil {
		return fmt.Errorf("feed dial failed: %w", err)
	}
	defer conn.Close()

	k.mu.Lock()
	k.conn = conn
	pending := make([]uint32, 0, len(k.subscribed))
	for token := range k.subscribed {
		pending = append(pending, token)
	}
	k.mu.Unlock()
	defer func() {
		k.mu.Lock()
		k.conn = nil
		k.mu.Unlock()
	}()

	if len(pending) > 0 {
		if err := k.send(conn, "subscribe", pending); err != nil {
			return err
		}
		if err := k.setMode(conn, "quote", pending); err != nil {
			return err
		}
	}
	k.log.Info().Int("instruments", len(pending)).Msg("feed connected")

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(upstreamReadTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed read failed: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			k.parseFrame(data)
		}
	}
}

func (k *KiteTicker) setMode(conn *websocket.Conn, mode string, tokens []uint32) error {
	msg, err := json.Marshal(map[string]any{"a": "mode", "v": []any{mode, tokens}})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// parseFrame unpacks the broker's binary frame: a big-endian packet count
// followed by length-prefixed packets. Heartbeats are 1-byte frames.
func (k *KiteTicker) parseFrame(data []byte) {
	if len(data) < 2 {
		return
	}
	count := int(binary.BigEndian.Uint16(data[0:2]))
	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			return
		}
		length := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if offset+length > len(data) {
			return
		}
		if tick, ok := k.parsePacket(data[offset : offset+length]); ok {
			k.sink.Dispatch(tick)
		}
		offset += length
	}
}

// parsePacket decodes a quote or full mode packet. LTP-only packets carry
// no volume or reference close and are forwarded with price alone. Prices
// are in paise.
func (k *KiteTicker) parsePacket(pkt []byte) (domain.Tick, bool) {
	if len(pkt) < 8 {
		return domain.Tick{}, false
	}
	token := binary.BigEndian.Uint32(pkt[0:4])
	symbol, ok := k.tokens.Symbol(token)
	if !ok {
		return domain.Tick{}, false
	}

	tick := domain.Tick{
		Symbol:    symbol,
		LastPrice: paise(pkt[4:8]),
		Timestamp: time.Now().UTC(),
	}
	if len(pkt) >= 44 {
		tick.Volume = float64(binary.BigEndian.Uint32(pkt[16:20]))
		if prevClose := paise(pkt[40:44]); prevClose > 0 {
			tick.Change = tick.LastPrice - prevClose
			tick.ChangePercent = tick.Change / prevClose * 100
		}
	}
	if len(pkt) >= 52 {
		if ts := binary.BigEndian.Uint32(pkt[44:48]); ts > 0 {
			tick.LastTradeTime = time.Unix(int64(ts), 0).UTC()
		}
		tick.OI = float64(binary.BigEndian.Uint32(pkt[48:52]))
	}
	return tick, true
}

func paise(b []byte) float64 {
	return float64(binary.BigEndian.Uint32(b)) / 100
}
