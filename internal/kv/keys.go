package kv

import (
	"fmt"
	"time"
)

// TTLs for the recognized keys.
const (
	TTLTopPicksRun          = time.Hour
	TTLMonitorSnapshot      = 10 * time.Minute
	TTLDashboardIntraday    = 15 * time.Minute
	TTLDashboardPerformance = 24 * time.Hour
)

// KeyTopPicks is the cached run payload for one universe/mode pair.
func KeyTopPicks(universe, mode string) string {
	return fmt.Sprintf("top_picks:%s:%s", universe, mode)
}

// KeyTopPicksLock guards engine computation for one universe/mode pair.
func KeyTopPicksLock(universe, mode string) string {
	return fmt.Sprintf("lock:top_picks:%s:%s", universe, mode)
}

// Monitor snapshot keys.
const (
	KeyPositionsMonitorLast   = "positions:monitor:last"
	KeyPortfolioPositionsLast = "portfolio:monitor:positions:last"
	KeyPortfolioWatchlistLast = "portfolio:monitor:watchlist:last"
	KeyScalpingMonitorLast    = "scalping:monitor:last"
)

// Dashboard aggregate keys.
const (
	KeyDashboardIntraday      = "dashboard:overview:intraday"
	KeyDashboardPerformance7d = "dashboard:overview:performance:7d"
)

// KeySRLevels caches computed support/resistance levels per symbol and scope
// (Y, M, W or D).
func KeySRLevels(symbol, scope string) string {
	return fmt.Sprintf("sr:levels:%s:%s", symbol, scope)
}
