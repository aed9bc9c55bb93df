package database

import (
	"time"

	"arise-trading-engine/internal/domain"
)

// PickEvent is one immutable pick record. trade_date is the IST calendar
// date of signal_ts.
type PickEvent struct {
	ID                int64            `json:"id"`
	PickUUID          string           `json:"pick_uuid"`
	Symbol            string           `json:"symbol"`
	Direction         domain.Direction `json:"direction"`
	Source            string           `json:"source"`
	Mode              domain.Mode      `json:"mode"`
	RunID             string           `json:"run_id"`
	SignalTS          time.Time        `json:"signal_ts"`
	TradeDate         string           `json:"trade_date"`
	SignalPrice       float64          `json:"signal_price"`
	RecommendedEntry  *float64         `json:"recommended_entry,omitempty"`
	RecommendedTarget *float64         `json:"recommended_target,omitempty"`
	RecommendedStop   *float64         `json:"recommended_stop,omitempty"`
	TimeHorizon       string           `json:"time_horizon"`
	BlendScore        float64          `json:"blend_score"`
	Recommendation    string           `json:"recommendation"`
	Confidence        string           `json:"confidence"`
	RegimeBucket      string           `json:"regime_bucket"`
	VolBucket         string           `json:"vol_bucket"`
	UserRiskBucket    string           `json:"user_risk_bucket"`
	Universe          string           `json:"universe"`
	ExtraContext      map[string]any   `json:"extra_context"`
	CreatedAt         time.Time        `json:"created_at"`
}

// AgentContribution is one agent's score attached to a pick. Score is nil
// when the agent degraded.
type AgentContribution struct {
	PickUUID   string         `json:"pick_uuid"`
	AgentName  string         `json:"agent_name"`
	Score      *float64       `json:"score"`
	Confidence string         `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Evaluation horizons.
const (
	HorizonEOD      = "EOD"
	HorizonScalping = "SCALPING"
)

// Outcome labels on ret_close_pct with a half-percent deadband.
const (
	OutcomeWin       = "WIN"
	OutcomeLoss      = "LOSS"
	OutcomeBreakeven = "BREAKEVEN"
)

// PickOutcome is the evaluated result of one pick at one horizon.
type PickOutcome struct {
	PickUUID          string         `json:"pick_uuid"`
	EvaluationHorizon string         `json:"evaluation_horizon"`
	HorizonEndTS      time.Time      `json:"horizon_end_ts"`
	PriceClose        float64        `json:"price_close"`
	PriceHigh         float64        `json:"price_high"`
	PriceLow          float64        `json:"price_low"`
	RetClosePct       float64        `json:"ret_close_pct"`
	MaxRunupPct       float64        `json:"max_runup_pct"`
	MaxDrawdownPct    float64        `json:"max_drawdown_pct"`
	BenchmarkSymbol   string         `json:"benchmark_symbol,omitempty"`
	BenchmarkRetPct   *float64       `json:"benchmark_ret_pct,omitempty"`
	HitTarget         bool           `json:"hit_target"`
	HitStop           bool           `json:"hit_stop"`
	OutcomeLabel      string         `json:"outcome_label"`
	Notes             map[string]any `json:"notes,omitempty"`
}

// TopPicksRun is the persisted metadata and payload of one engine run.
type TopPicksRun struct {
	RunID         string          `json:"run_id"`
	Universe      string          `json:"universe"`
	Mode          domain.Mode     `json:"mode"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Trigger       domain.Trigger  `json:"trigger"`
	TotalAnalyzed int             `json:"total_analyzed"`
	FilteredCount int             `json:"filtered_count"`
	PicksCount    int             `json:"picks_count"`
	ElapsedSec    float64         `json:"elapsed_sec"`
	Payload       []byte          `json:"-"`
}

// Policy statuses.
const (
	PolicyDraft   = "DRAFT"
	PolicyActive  = "ACTIVE"
	PolicyRetired = "RETIRED"
)

// Policy is the reinforcement meta-strategy registry row. Config holds
// per-mode exit profiles and bandit actions; metrics holds trained state.
type Policy struct {
	PolicyID      string         `json:"policy_id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Status        string         `json:"status"`
	Config        map[string]any `json:"config"`
	Metrics       map[string]any `json:"metrics"`
	ActivatedAt   *time.Time     `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time     `json:"deactivated_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// AiRecommendation is the per-pick analytics row tracking realization.
type AiRecommendation struct {
	ID             int64            `json:"id"`
	PickUUID       string           `json:"pick_uuid,omitempty"`
	Symbol         string           `json:"symbol"`
	Mode           domain.Mode      `json:"mode"`
	Recommendation string           `json:"recommendation"`
	Direction      domain.Direction `json:"direction"`
	EntryPrice     float64          `json:"entry_price"`
	TargetPrice    *float64         `json:"target_price,omitempty"`
	StopPrice      *float64         `json:"stop_price,omitempty"`
	ExitPrice      *float64         `json:"exit_price,omitempty"`
	ExitReason     string           `json:"exit_reason,omitempty"`
	ExitTime       *time.Time       `json:"exit_time,omitempty"`
	ReturnPct      *float64         `json:"return_pct,omitempty"`
	DataSource     string           `json:"data_source"`
	TradeDate      string           `json:"trade_date"`
	CreatedAt      time.Time        `json:"created_at"`
}
