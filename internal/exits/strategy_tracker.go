package exits

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/marketclock"
)

// StrategyExitTracker persists strategy advisories per IST day, deduplicated
// by (symbol, strategy_id, kind, recommended_exit_price). Concurrent
// monitors producing the same advisory collapse to one record.
type StrategyExitTracker struct {
	dir string
	log zerolog.Logger
	mu  sync.Mutex
}

func NewStrategyExitTracker(dataDir string, log zerolog.Logger) (*StrategyExitTracker, error) {
	dir := filepath.Join(dataDir, "strategy_exits")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating strategy exits dir: %w", err)
	}
	return &StrategyExitTracker{
		dir: dir,
		log: log.With().Str("component", "strategy_exits").Logger(),
	}, nil
}

func (t *StrategyExitTracker) fileFor(tradeDate string) string {
	return filepath.Join(t.dir, "strategy_exits_"+strings.ReplaceAll(tradeDate, "-", "")+".json")
}

// advisoryDayFile is the on-disk envelope for one trade date.
type advisoryDayFile struct {
	Date  string            `json:"date"`
	Exits []domain.Advisory `json:"exits"`
}

func dedupKey(a domain.Advisory) string {
	return fmt.Sprintf("%s|%s|%s|%.4f", a.Symbol, a.StrategyID, a.Kind, a.RecommendedExitPrice)
}

// Record stores an advisory, assigning id, enforcement and is_exit defaults.
// Returns false when the same advisory is already on file for the day.
func (t *StrategyExitTracker) Record(advisory domain.Advisory) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if advisory.ID == "" {
		advisory.ID = uuid.New().String()
	}
	advisory.Enforcement = domain.EnforcementAdvisoryOnly
	advisory.RecommendedExitPrice = round4(advisory.RecommendedExitPrice)

	tradeDate := marketclock.TradeDate(advisory.GeneratedAt)
	existing, err := t.loadDay(tradeDate)
	if err != nil {
		return false, err
	}

	key := dedupKey(advisory)
	for _, a := range existing {
		if dedupKey(a) == key {
			return false, nil
		}
	}

	existing = append(existing, advisory)
	if err := t.saveDay(tradeDate, existing); err != nil {
		return false, err
	}
	t.log.Info().
		Str("symbol", advisory.Symbol).
		Str("strategy", advisory.StrategyID).
		Str("kind", advisory.Kind).
		Msg("strategy advisory recorded")
	return true, nil
}

// AdvisoriesFor returns every advisory stored for an IST trade date.
func (t *StrategyExitTracker) AdvisoriesFor(tradeDate string) ([]domain.Advisory, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadDay(tradeDate)
}

// GetExitFor returns the best-ranked advisory for a symbol on a day,
// ordered by kind priority then earliest generation. strategyID and mode
// narrow the search when non-empty.
func (t *StrategyExitTracker) GetExitFor(symbol, tradeDate, strategyID string, mode domain.Mode) (domain.Advisory, bool, error) {
	all, err := t.AdvisoriesFor(tradeDate)
	if err != nil {
		return domain.Advisory{}, false, err
	}

	var matches []domain.Advisory
	for _, a := range all {
		if a.Symbol != symbol {
			continue
		}
		if strategyID != "" && a.StrategyID != strategyID {
			continue
		}
		if mode != "" && a.Mode != "" && a.Mode != mode {
			continue
		}
		matches = append(matches, a)
	}
	if len(matches) == 0 {
		return domain.Advisory{}, false, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		pi, pj := domain.KindPriority(matches[i].Kind), domain.KindPriority(matches[j].Kind)
		if pi != pj {
			return pi < pj
		}
		return matches[i].GeneratedAt.Before(matches[j].GeneratedAt)
	})
	return matches[0], true, nil
}

func (t *StrategyExitTracker) loadDay(tradeDate string) ([]domain.Advisory, error) {
	data, err := os.ReadFile(t.fileFor(tradeDate))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading advisories for %s: %w", tradeDate, err)
	}
	var day advisoryDayFile
	if err := json.Unmarshal(data, &day); err != nil {
		return nil, fmt.Errorf("error parsing advisories for %s: %w", tradeDate, err)
	}
	return day.Exits, nil
}

func (t *StrategyExitTracker) saveDay(tradeDate string, advisories []domain.Advisory) error {
	data, err := json.MarshalIndent(advisoryDayFile{Date: tradeDate, Exits: advisories}, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling advisories for %s: %w", tradeDate, err)
	}
	tmp := t.fileFor(tradeDate) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing advisories for %s: %w", tradeDate, err)
	}
	if err := os.Rename(tmp, t.fileFor(tradeDate)); err != nil {
		return fmt.Errorf("error replacing advisories for %s: %w", tradeDate, err)
	}
	return nil
}
