// Package exits persists realized scalping exits and strategy advisories
// into per-IST-day JSON files under the data dir.
package exits

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

// ScalpingExitTracker appends realized scalping exits to one JSON file per
// IST trading day, deduplicated by (symbol, entry_time).
type ScalpingExitTracker struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

func NewScalpingExitTracker(dataDir string, log zerolog.Logger) (*ScalpingExitTracker, error) {
	dir := filepath.Join(dataDir, "scalping_exits")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating scalping exits dir: %w", err)
	}
	return &ScalpingExitTracker{
		dir: dir,
		log: log.With().Str("component", "scalping_exits").Logger(),
	}, nil
}

func (t *ScalpingExitTracker) fileFor(tradeDate string) string {
	return filepath.Join(t.dir, "exits_"+strings.ReplaceAll(tradeDate, "-", "")+".json")
}

// scalpingDayFile is the on-disk envelope for one trade date.
type scalpingDayFile struct {
	Date  string                `json:"date"`
	Exits []domain.ScalpingExit `json:"exits"`
}

// round4 normalizes prices and percents to four decimal places so dedup
// comparisons and file contents are stable across float formatting.
func round4(f float64) float64 {
	v, _ := decimal.NewFromFloat(f).Round(4).Float64()
	return v
}

// Record appends one exit. Returns false when an exit for the same symbol
// and entry time is already recorded for that day.
func (t *ScalpingExitTracker) Record(exit domain.ScalpingExit) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exit.EntryPrice = round4(exit.EntryPrice)
	exit.ExitPrice = round4(exit.ExitPrice)
	exit.ReturnPct = round4(exit.ReturnPct)

	tradeDate := marketclock.TradeDate(exit.ExitTime)
	existing, err := t.loadDay(tradeDate)
	if err != nil {
		return false, err
	}

	for _, e := range existing {
		if e.Symbol == exit.Symbol && e.EntryTime.Equal(exit.EntryTime) {
			return false, nil
		}
	}

	existing = append(existing, exit)
	if err := t.saveDay(tradeDate, existing); err != nil {
		return false, err
	}
	t.log.Info().
		Str("symbol", exit.Symbol).
		Str("reason", exit.ExitReason).
		Float64("return_pct", exit.ReturnPct).
		Msg("scalping exit recorded")
	return true, nil
}

// ExitsFor returns the recorded exits for an IST trade date.
func (t *ScalpingExitTracker) ExitsFor(tradeDate string) ([]domain.ScalpingExit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadDay(tradeDate)
}

// HasExit reports whether (symbol, entryTime) already exited on that day.
func (t *ScalpingExitTracker) HasExit(tradeDate, symbol string, entryTime time.Time) (bool, error) {
	exits, err := t.ExitsFor(tradeDate)
	if err != nil {
		return false, err
	}
	for _, e := range exits {
		if e.Symbol == symbol && e.EntryTime.Equal(entryTime) {
			return true, nil
		}
	}
	return false, nil
}

func (t *ScalpingExitTracker) loadDay(tradeDate string) ([]domain.ScalpingExit, error) {
	data, err := os.ReadFile(t.fileFor(tradeDate))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading exits for %s: %w", tradeDate, err)
	}
	var day scalpingDayFile
	if err := json.Unmarshal(data, &day); err != nil {
		return nil, fmt.Errorf("error parsing exits for %s: %w", tradeDate, err)
	}
	return day.Exits, nil
}

func (t *ScalpingExitTracker) saveDay(tradeDate string, exits []domain.ScalpingExit) error {
	data, err := json.MarshalIndent(scalpingDayFile{Date: tradeDate, Exits: exits}, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling exits for %s: %w", tradeDate, err)
	}
	tmp := t.fileFor(tradeDate) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing exits for %s: %w", tradeDate, err)
	}
	if err := os.Rename(tmp, t.fileFor(tradeDate)); err != nil {
		return fmt.Errorf("error replacing exits for %s: %w", tradeDate, err)
	}
	return nil
}
