package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsLandInDailyJSONL(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, zerolog.Nop())
	l.Start(context.Background())

	l.Log(TypeTopPicksRun, "engine", map[string]any{"universe": "nifty50", "picks": 5})
	l.Log(TypeTopPicksRun, "engine", map[string]any{"universe": "banknifty", "picks": 3})
	l.Close()

	now := time.Now().UTC()
	path := filepath.Join(dir, "events", TypeTopPicksRun,
		now.Format("2006"), now.Format("01"), now.Format("02"), "events.jsonl")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.Len(t, events, 2)
	assert.Equal(t, TypeTopPicksRun, events[0].EventType)
	assert.Equal(t, "engine", events[0].Source)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestDisabledTypesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, zerolog.Nop())
	l.SetTypeEnabled(TypeBroadcast, false)
	l.Start(context.Background())

	l.Log(TypeBroadcast, "hub", map[string]any{"channel": "tick"})
	l.Log(TypeScalpingExit, "monitor", map[string]any{"symbol": "SBIN"})
	l.Close()

	_, err := os.Stat(filepath.Join(dir, "events", TypeBroadcast))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "events", TypeScalpingExit))
	assert.NoError(t, err)
}

func TestGlobalDisableStopsEverything(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, zerolog.Nop())
	l.SetEnabled(false)
	l.Start(context.Background())

	l.Log(TypeTraining, "trainer", nil)
	l.Close()

	_, err := os.Stat(filepath.Join(dir, "events"))
	assert.True(t, os.IsNotExist(err))
}

func TestOverflowDropsNewest(t *testing.T) {
	// Not started: the queue only fills.
	l := New(t.TempDir(), zerolog.Nop())
	for i := 0; i < queueCapacity+25; i++ {
		l.Log(TypeMonitorSnapshot, "monitor", nil)
	}
	assert.Equal(t, int64(25), l.Dropped())
}
