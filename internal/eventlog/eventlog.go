// Package eventlog appends structured events to daily JSONL files without
// blocking callers. A bounded queue feeds a single writer goroutine; when
// the queue is full the newest event is dropped and counted.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted across the planes.
const (
	TypeTopPicksRun     = "top_picks_run"
	TypeScalpingExit    = "scalping_exit"
	TypeAdvisory        = "strategy_advisory"
	TypeMonitorSnapshot = "monitor_snapshot"
	TypeBroadcast       = "ws_broadcast"
	TypeTraining        = "training"
)

const queueCapacity = 10000

// Event is one structured record.
type Event struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	TS        time.Time      `json:"ts"`
	Payload   map[string]any `json:"payload"`
}

// Logger is the non-blocking event sink.
type Logger struct {
	dir     string
	log     zerolog.Logger
	queue   chan Event
	enabled atomic.Bool
	dropped atomic.Int64

	mu          sync.RWMutex
	typeEnabled map[string]bool

	wg   sync.WaitGroup
	stop chan struct{}
}

// New creates the logger rooted at dataDir/events. All event types start
// enabled; Start must be called before events are written.
func New(dataDir string, log zerolog.Logger) *Logger {
	l := &Logger{
		dir:         filepath.Join(dataDir, "events"),
		log:         log.With().Str("component", "eventlog").Logger(),
		queue:       make(chan Event, queueCapacity),
		typeEnabled: make(map[string]bool),
		stop:        make(chan struct{}),
	}
	l.enabled.Store(true)
	return l
}

// SetEnabled toggles the whole sink.
func (l *Logger) SetEnabled(on bool) { l.enabled.Store(on) }

// SetTypeEnabled toggles one event type. Types never configured default on.
func (l *Logger) SetTypeEnabled(eventType string, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.typeEnabled[eventType] = on
}

func (l *Logger) typeAllowed(eventType string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if on, ok := l.typeEnabled[eventType]; ok {
		return on
	}
	return true
}

// Dropped reports how many events were discarded on overflow.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Log enqueues an event. Never blocks: a full queue drops this event.
func (l *Logger) Log(eventType, source string, payload map[string]any) {
	if !l.enabled.Load() || !l.typeAllowed(eventType) {
		return
	}
	event := Event{
		ID:        uuid.New().String(),
		EventType: eventType,
		Source:    source,
		TS:        time.Now().UTC(),
		Payload:   payload,
	}
	select {
	case l.queue <- event:
	default:
		n := l.dropped.Add(1)
		if n%1000 == 1 {
			l.log.Warn().Int64("dropped_total", n).Msg("event queue full, dropping")
		}
	}
}

// Start launches the writer goroutine. It drains until ctx is cancelled,
// then flushes whatever is already queued.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case event := <-l.queue:
				l.write(event)
			case <-ctx.Done():
				l.drain()
				return
			case <-l.stop:
				l.drain()
				return
			}
		}
	}()
}

// Close stops the writer after flushing queued events.
func (l *Logger) Close() {
	close(l.stop)
	l.wg.Wait()
}

func (l *Logger) drain() {
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		default:
			return
		}
	}
}

// pathFor buckets files by event type and UTC date.
func (l *Logger) pathFor(event Event) string {
	return filepath.Join(
		l.dir,
		event.EventType,
		event.TS.Format("2006"),
		event.TS.Format("01"),
		event.TS.Format("02"),
		"events.jsonl",
	)
}

func (l *Logger) write(event Event) {
	path := l.pathFor(event)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.log.Error().Err(err).Str("path", path).Msg("event dir create failed")
		return
	}

	line, err := json.Marshal(event)
	if err != nil {
		l.log.Error().Err(err).Str("type", event.EventType).Msg("event marshal failed")
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.log.Error().Err(err).Str("path", path).Msg("event file open failed")
		return
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
		l.log.Error().Err(err).Str("path", path).Msg("event append failed")
	}
}
