package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/domain"
)

type fakeWSConn struct {
	mu      sync.Mutex
	written [][]byte
	inbound chan []byte
	closed  bool
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{inbound: make(chan []byte, 16)}
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.inbound
	if !ok {
		return 0, nil, websocket.ErrCloseSent
	}
	return websocket.TextMessage, msg, nil
}

func (f *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeWSConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeWSConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeWSConn) SetPongHandler(func(string) error) {}

func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWSConn) messageTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, raw := range f.written {
		var msg map[string]any
		if json.Unmarshal(raw, &msg) == nil {
			if t, ok := msg["type"].(string); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

func (f *fakeWSConn) hasMessageType(want string) bool {
	for _, t := range f.messageTypes() {
		if t == want {
			return true
		}
	}
	return false
}

type fakeUpstream struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (f *fakeUpstream) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, symbols...)
	return nil
}

func (f *fakeUpstream) Unsubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, symbols...)
	return nil
}

func (f *fakeUpstream) unsubscribedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

func (f *fakeUpstream) subscribedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestConnectSendsWelcome(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	conn := newFakeWSConn()

	hub.Connect(conn)

	waitFor(t, func() bool { return conn.hasMessageType("connected") })
	assert.Equal(t, 1, hub.ClientCount())
}

func TestSubscribeRoutesNewSymbolsUpstream(t *testing.T) {
	up := &fakeUpstream{}
	hub := NewHub(up, zerolog.Nop())
	conn := newFakeWSConn()
	c := hub.Connect(conn)

	hub.Subscribe(c, []string{"XYZTEST", "RELIANCE"})

	waitFor(t, func() bool { return conn.hasMessageType("subscribed") })
	// Always-on symbols are already subscribed upstream at startup.
	assert.Equal(t, []string{"XYZTEST"}, up.subscribedSymbols())
	assert.ElementsMatch(t, []string{"XYZTEST", "RELIANCE"}, hub.SubscribedSymbols())
}

func TestUnsubscribeKeepsAlwaysOnUpstream(t *testing.T) {
	up := &fakeUpstream{}
	hub := NewHub(up, zerolog.Nop())
	c := hub.Connect(newFakeWSConn())
	hub.Subscribe(c, []string{"XYZTEST", "RELIANCE"})

	hub.Unsubscribe(c, []string{"XYZTEST", "RELIANCE"})

	assert.Equal(t, []string{"XYZTEST"}, up.unsubscribedSymbols())
	assert.Empty(t, hub.SubscribedSymbols())
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	up := &fakeUpstream{}
	hub := NewHub(up, zerolog.Nop())
	conn := newFakeWSConn()
	c := hub.Connect(conn)
	hub.Subscribe(c, []string{"XYZTEST"})

	hub.Disconnect(c)

	assert.Zero(t, hub.ClientCount())
	assert.Equal(t, []string{"XYZTEST"}, up.unsubscribedSymbols())
	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.closed
	})
}

func TestDispatchCachesAndFansOutToSubscribers(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Start(ctx)

	subConn := newFakeWSConn()
	sub := hub.Connect(subConn)
	hub.Subscribe(sub, []string{"RELIANCE"})
	otherConn := newFakeWSConn()
	hub.Connect(otherConn)

	hub.Dispatch(domain.Tick{Symbol: "RELIANCE", LastPrice: 2950.5, Volume: 1200})

	waitFor(t, func() bool { return subConn.hasMessageType("tick") })
	tick, ok := hub.LastTick("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, 2950.5, tick.LastPrice)
	assert.False(t, otherConn.hasMessageType("tick"))
}

func TestReadLoopDrivesProtocol(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	conn := newFakeWSConn()
	c := hub.Connect(conn)
	go hub.ReadLoop(c)

	conn.inbound <- []byte(`{"action":"subscribe","symbols":["RELIANCE"]}`)
	waitFor(t, func() bool { return conn.hasMessageType("subscribed") })

	conn.inbound <- []byte(`not json`)
	waitFor(t, func() bool { return conn.hasMessageType("error") })

	conn.inbound <- []byte(`{"action":"unsubscribe","symbols":["RELIANCE"]}`)
	waitFor(t, func() bool { return conn.hasMessageType("unsubscribed") })

	close(conn.inbound)
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

type captureSink struct {
	mu    sync.Mutex
	ticks []domain.Tick
}

func (c *captureSink) Dispatch(tick domain.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = append(c.ticks, tick)
}

func quotePacket(token uint32, ltpPaise, volume, closePaise uint32) []byte {
	pkt := make([]byte, 44)
	binary.BigEndian.PutUint32(pkt[0:4], token)
	binary.BigEndian.PutUint32(pkt[4:8], ltpPaise)
	binary.BigEndian.PutUint32(pkt[16:20], volume)
	binary.BigEndian.PutUint32(pkt[40:44], closePaise)
	return pkt
}

func frame(packets ...[]byte) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(packets)))
	for _, pkt := range packets {
		lenPrefix := make([]byte, 2)
		binary.BigEndian.PutUint16(lenPrefix, uint16(len(pkt)))
		out = append(out, lenPrefix...)
		out = append(out, pkt...)
	}
	return out
}

func TestTickerParsesQuotePackets(t *testing.T) {
	sink := &captureSink{}
	tokens := NewTokenTable(map[string]uint32{"RELIANCE": 738561})
	ticker := NewKiteTicker("key", "token", tokens, sink, zerolog.Nop())

	ticker.parseFrame(frame(
		quotePacket(738561, 295050, 1200, 290000),
		quotePacket(999999, 100000, 10, 99000), // unknown token skipped
	))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.ticks, 1)
	tick := sink.ticks[0]
	assert.Equal(t, "RELIANCE", tick.Symbol)
	assert.Equal(t, 2950.5, tick.LastPrice)
	assert.Equal(t, 1200.0, tick.Volume)
	assert.InDelta(t, 50.5, tick.Change, 1e-9)
	assert.InDelta(t, 50.5/2900*100, tick.ChangePercent, 1e-9)
}

func TestTickerIgnoresHeartbeatFrames(t *testing.T) {
	sink := &captureSink{}
	ticker := NewKiteTicker("key", "token", NewTokenTable(nil), sink, zerolog.Nop())

	ticker.parseFrame([]byte{0})

	assert.Empty(t, sink.ticks)
}

func TestTickerSubscriptionSurvivesWithoutConnection(t *testing.T) {
	tokens := NewTokenTable(map[string]uint32{"RELIANCE": 738561, "TCS": 2953217})
	ticker := NewKiteTicker("key", "token", tokens, &captureSink{}, zerolog.Nop())

	require.NoError(t, ticker.Subscribe([]string{"RELIANCE", "TCS", "UNKNOWN"}))
	assert.Len(t, ticker.subscribed, 2)

	require.NoError(t, ticker.Unsubscribe([]string{"TCS"}))
	assert.Len(t, ticker.subscribed, 1)
	assert.True(t, ticker.subscribed[738561])
}
