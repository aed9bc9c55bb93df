package domain

import "time"

// Exit reasons recorded on closed scalping positions.
const (
	ExitTargetHit    = "TARGET_HIT"
	ExitStopLoss     = "STOP_LOSS"
	ExitTimeExit     = "TIME_EXIT"
	ExitTrailingStop = "TRAILING_STOP"
	ExitEODAuto      = "EOD_AUTO_EXIT"
)

// Exit condition identifiers used in exit-profile priority ordering.
const (
	CondStop   = "STOP"
	CondTrail  = "TRAIL"
	CondTarget = "TARGET"
	CondTime   = "TIME"
)

// DefaultExitPriority is the tie-break order when several exit conditions
// become eligible within the same bar.
var DefaultExitPriority = []string{CondStop, CondTrail, CondTarget, CondTime}

// StopRule parameterizes the stop leg of an exit profile.
type StopRule struct {
	Type  string  `json:"type"` // percent | price | atr_multiple
	Value float64 `json:"value"`
}

// TargetRule parameterizes the target leg of an exit profile.
type TargetRule struct {
	Type  string  `json:"type"` // percent | price | rr_multiple
	Value float64 `json:"value"`
}

// TrailingRule parameterizes trailing-stop activation and distance.
type TrailingRule struct {
	Enabled         bool    `json:"enabled"`
	ActivationType  string  `json:"activation_type"` // percent | rr_multiple
	ActivationValue float64 `json:"activation_value"`
	TrailType       string  `json:"trail_type"` // percent | rr_multiple
	TrailValue      float64 `json:"trail_value"`
}

// TimeStopRule caps holding time.
type TimeStopRule struct {
	Enabled        bool `json:"enabled"`
	MaxHoldMinutes int  `json:"max_hold_minutes"`
}

// ExitProfile is a parameterized rule set used both by the offline evaluator
// and the online monitors.
type ExitProfile struct {
	ID           string       `json:"id"`
	Stop         StopRule     `json:"stop"`
	Target       TargetRule   `json:"target"`
	Trailing     TrailingRule `json:"trailing"`
	TimeStop     TimeStopRule `json:"time_stop"`
	ExitPriority []string     `json:"exit_priority,omitempty"`
}

// Priority returns the profile's exit order, defaulting when unset.
func (p ExitProfile) Priority() []string {
	if len(p.ExitPriority) > 0 {
		return p.ExitPriority
	}
	return DefaultExitPriority
}

// TargetsLadder is the scalping take-profit ladder.
type TargetsLadder struct {
	TP1Pct float64 `json:"tp1_pct"`
	TP2Pct float64 `json:"tp2_pct"`
	TP3Pct float64 `json:"tp3_pct"`
}

// ExitStrategy is attached to every actionable pick. Scalping picks carry
// ATR-derived percent levels and a ladder; other modes carry the policy exit
// profile resolved through the bandit.
type ExitStrategy struct {
	TargetPct        float64        `json:"target_pct"`
	StopPct          float64        `json:"stop_pct"`
	TargetPrice      float64        `json:"target_price"`
	StopLossPrice    float64        `json:"stop_loss_price"`
	MaxHoldMins      int            `json:"max_hold_mins"`
	TrailActivatePct float64        `json:"trailing_activation_pct"`
	TrailDistancePct float64        `json:"trailing_distance_pct"`
	Ladder           *TargetsLadder `json:"targets_ladder,omitempty"`
	ExitProfileID    string         `json:"exit_profile_id,omitempty"`
}

// Complete reports whether the strategy carries the levels the scalping
// monitor needs to evaluate exits.
func (s *ExitStrategy) Complete() bool {
	return s != nil && s.TargetPrice > 0 && s.StopLossPrice > 0 && s.MaxHoldMins > 0
}

// ScalpingExit is one closed scalping position, written per IST day.
type ScalpingExit struct {
	Symbol           string    `json:"symbol"`
	EntryTime        time.Time `json:"entry_time"`
	EntryPrice       float64   `json:"entry_price"`
	ExitTime         time.Time `json:"exit_time"`
	ExitPrice        float64   `json:"exit_price"`
	ExitReason       string    `json:"exit_reason"`
	ReturnPct        float64   `json:"return_pct"`
	HoldDurationMins int       `json:"hold_duration_mins"`
	Mode             Mode      `json:"mode"`
	Recommendation   string    `json:"recommendation"`
}

// Advisory kinds and severities.
const (
	KindPartialProfit      = "PARTIAL_PROFIT"
	KindContextInvalidated = "CONTEXT_INVALIDATED"
	KindTrendWeakening     = "TREND_WEAKENING"
	KindVolumeFade         = "VOLUME_FADE"
	KindPriceStretched     = "PRICE_STRETCHED"

	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// EnforcementAdvisoryOnly marks that advisories never mutate positions.
const EnforcementAdvisoryOnly = "ADVISORY_ONLY"

// Advisory is a read-only strategy exit signal (S1/S2/S3/SR/NEWS). It is
// stored for analytics and never alters orders.
type Advisory struct {
	ID                   string             `json:"id"`
	StrategyID           string             `json:"strategy_id"`
	Kind                 string             `json:"kind"`
	Severity             string             `json:"severity"`
	Enforcement          string             `json:"enforcement"`
	IsExit               bool               `json:"is_exit"`
	Symbol               string             `json:"symbol"`
	Direction            Direction          `json:"direction"`
	Price                float64            `json:"price"`
	EntryPrice           float64            `json:"entry_price"`
	InitialSL            float64            `json:"initial_sl,omitempty"`
	RRMultiple           float64            `json:"rr_multiple,omitempty"`
	Indicators           map[string]float64 `json:"indicators,omitempty"`
	Message              string             `json:"message"`
	RecommendedActions   []string           `json:"recommended_actions,omitempty"`
	RecommendedExitPrice float64            `json:"recommended_exit_price,omitempty"`
	SRReason             string             `json:"sr_reason,omitempty"`
	NewsReason           string             `json:"news_reason,omitempty"`
	Mode                 Mode               `json:"mode,omitempty"`
	GeneratedAt          time.Time          `json:"generated_at"`
}

// KindPriority ranks advisory kinds for GetExitFor: lower ranks first.
func KindPriority(kind string) int {
	switch kind {
	case KindContextInvalidated:
		return 0
	case KindPartialProfit:
		return 1
	default:
		return 2
	}
}
