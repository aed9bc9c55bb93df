// Package monitor implements the periodic position monitors: scalping exits,
// top-picks-derived positions, and portfolio/watchlist health, plus the
// advisory strategy evaluators that ride along with them.
package monitor

import (
	"fmt"
	"time"

	"arise-trading-engine/internal/domain"
)

// Urgency levels attached to monitoring alerts.
const (
	UrgencyLow      = "LOW"
	UrgencyMedium   = "MEDIUM"
	UrgencyHigh     = "HIGH"
	UrgencyCritical = "CRITICAL"
)

// Alert thresholds.
const (
	stopProximityPct   = 3.0
	targetProximityPct = 5.0
	stopProximityScore = 40
)

// LogicalPosition is a monitored position, derived from a pick, a broker
// position, or a watchlist entry. Quantity is zero for pick-derived entries.
type LogicalPosition struct {
	Symbol       string           `json:"symbol"`
	Mode         domain.Mode      `json:"mode"`
	Direction    domain.Direction `json:"direction"`
	Quantity     float64          `json:"quantity,omitempty"`
	EntryPrice   float64          `json:"entry_price"`
	CurrentPrice float64          `json:"current_price"`
	StopLoss     float64          `json:"stop_loss,omitempty"`
	Target       float64          `json:"target,omitempty"`
	EntryTime    time.Time        `json:"entry_time,omitempty"`
	VolBucket    string           `json:"vol_bucket,omitempty"`
	SRScore      float64          `json:"sr_score,omitempty"`
	Source       string           `json:"source"`
}

// ReturnPct is the signed open return.
func (p LogicalPosition) ReturnPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Direction.Sign() * (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// Alert is one health finding on a position.
type Alert struct {
	Urgency string `json:"urgency"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Health is the AutoMonitoringAgent verdict for one position.
type Health struct {
	Symbol    string  `json:"symbol"`
	Score     int     `json:"score"`
	Urgency   string  `json:"urgency"`
	ReturnPct float64 `json:"return_pct"`
	Alerts    []Alert `json:"alerts"`
}

// AutoMonitoringAgent scores position health from price distance to levels
// and context flags. It is stateless and shared by every monitor.
type AutoMonitoringAgent struct{}

// Check runs the alert rules over one position. The health score starts at
// 100 and each finding deducts.
func (AutoMonitoringAgent) Check(p LogicalPosition) Health {
	h := Health{Symbol: p.Symbol, Score: 100, Urgency: UrgencyLow, ReturnPct: p.ReturnPct()}

	if p.StopLoss > 0 && p.CurrentPrice > 0 {
		distPct := absFloat(p.CurrentPrice-p.StopLoss) / p.CurrentPrice * 100
		if distPct <= stopProximityPct {
			h.Score -= stopProximityScore
			h.add(Alert{
				Urgency: UrgencyCritical,
				Code:    "STOP_PROXIMITY",
				Message: fmt.Sprintf("price %.2f within %.1f%% of stop %.2f", p.CurrentPrice, distPct, p.StopLoss),
			})
		}
	}

	if p.Target > 0 && p.CurrentPrice > 0 {
		distPct := absFloat(p.Target-p.CurrentPrice) / p.CurrentPrice * 100
		if distPct <= targetProximityPct {
			h.Score -= 10
			h.add(Alert{
				Urgency: UrgencyMedium,
				Code:    "TARGET_PROXIMITY",
				Message: fmt.Sprintf("price %.2f within %.1f%% of target %.2f", p.CurrentPrice, distPct, p.Target),
			})
		}
	}

	if p.VolBucket == "HIGH" {
		h.Score -= 10
		h.add(Alert{Urgency: UrgencyMedium, Code: "HIGH_VOLATILITY", Message: "volatility regime is HIGH"})
	}

	// SR score near the band edges means price is pressed against a pivot
	// level; mid-band readings are quiet.
	if p.SRScore >= 85 || (p.SRScore > 0 && p.SRScore <= 18) {
		h.Score -= 10
		h.add(Alert{
			Urgency: UrgencyMedium,
			Code:    "SR_PROXIMITY",
			Message: fmt.Sprintf("price in pivot pressure band (score %.0f)", p.SRScore),
		})
	}

	if h.Score < 0 {
		h.Score = 0
	}
	return h
}

func (h *Health) add(a Alert) {
	h.Alerts = append(h.Alerts, a)
	if urgencyRank(a.Urgency) > urgencyRank(h.Urgency) {
		h.Urgency = a.Urgency
	}
}

func urgencyRank(u string) int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	default:
		return 0
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
