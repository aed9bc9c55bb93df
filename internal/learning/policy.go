package learning

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"arise-trading-engine/internal/domain"
)

// BanditConfig declares the action space and exploration knobs for one
// bandit arm of a mode policy.
type BanditConfig struct {
	Epsilon            float64  `json:"epsilon"`
	MinTradesPerAction int      `json:"min_trades_per_action"`
	Actions            []string `json:"actions"`
	DefaultAction      string   `json:"default_action,omitempty"`
}

// Build constructs an empty bandit from this config.
func (c BanditConfig) Build(rng *rand.Rand) *Bandit {
	return NewBandit(c.Actions, c.Epsilon, c.MinTradesPerAction, rng)
}

// RegimeBias scales per-direction exposure caps online.
type RegimeBias struct {
	LongMult  float64 `json:"long_mult"`
	ShortMult float64 `json:"short_mult"`
}

// ModePolicy is one mode's slice of the policy config.
type ModePolicy struct {
	ExitProfiles []domain.ExitProfile `json:"exit_profiles"`
	ExitBandit   BanditConfig         `json:"exit_bandit"`
	EntryBandit  BanditConfig         `json:"entry_bandit"`
	RegimeBias   *RegimeBias          `json:"regime_bias,omitempty"`
}

// ProfileByID looks up a declared exit profile.
func (m ModePolicy) ProfileByID(id string) (domain.ExitProfile, bool) {
	for _, p := range m.ExitProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return domain.ExitProfile{}, false
}

// PolicyConfig is the typed view of the policy registry's config document.
type PolicyConfig struct {
	Modes                map[string]ModePolicy `json:"modes"`
	EvaluationWindowDays int                   `json:"evaluation_window_days"`
}

// ModeFor returns the mode's policy, falling back to the default for modes
// the document omits.
func (c PolicyConfig) ModeFor(mode domain.Mode) ModePolicy {
	if m, ok := c.Modes[string(mode)]; ok {
		return m
	}
	return defaultModePolicy(mode)
}

// Entry actions shared across modes.
const (
	ActionEnterFull = "enter_full"
	ActionEnterHalf = "enter_half"
	ActionSkip      = "skip"
)

func defaultExitProfiles(mode domain.Mode) []domain.ExitProfile {
	// Tighter stops and short holds for intraday styles, wider levels and
	// day-scale holds for Swing.
	stopPct, targetRR := 1.0, 2.0
	maxHold := 240
	trailAct, trailDist := 1.0, 0.5
	if mode == domain.ModeScalping {
		stopPct, targetRR = 0.5, 1.5
		maxHold = 60
		trailAct, trailDist = 0.4, 0.25
	}
	if mode == domain.ModeSwing {
		stopPct, targetRR = 3.0, 2.0
		maxHold = 5 * 24 * 60
		trailAct, trailDist = 3.0, 1.5
	}
	mk := func(id string, stopMult, rrMult float64, trailing bool) domain.ExitProfile {
		return domain.ExitProfile{
			ID:     id,
			Stop:   domain.StopRule{Type: "percent", Value: stopPct * stopMult},
			Target: domain.TargetRule{Type: "rr_multiple", Value: targetRR * rrMult},
			Trailing: domain.TrailingRule{
				Enabled:         trailing,
				ActivationType:  "percent",
				ActivationValue: trailAct,
				TrailType:       "percent",
				TrailValue:      trailDist,
			},
			TimeStop: domain.TimeStopRule{Enabled: true, MaxHoldMinutes: maxHold},
		}
	}
	return []domain.ExitProfile{
		mk("exit_tight", 0.6, 0.75, true),
		mk("exit_balanced", 1.0, 1.0, true),
		mk("exit_wide", 1.5, 1.25, false),
	}
}

func defaultModePolicy(mode domain.Mode) ModePolicy {
	profiles := defaultExitProfiles(mode)
	exitActions := make([]string, len(profiles))
	for i, p := range profiles {
		exitActions[i] = p.ID
	}
	return ModePolicy{
		ExitProfiles: profiles,
		ExitBandit: BanditConfig{
			Epsilon:            0.1,
			MinTradesPerAction: 5,
			Actions:            exitActions,
			DefaultAction:      "exit_balanced",
		},
		EntryBandit: BanditConfig{
			Epsilon:            0.05,
			MinTradesPerAction: 10,
			Actions:            []string{ActionEnterFull, ActionEnterHalf, ActionSkip},
			DefaultAction:      ActionEnterFull,
		},
		RegimeBias: &RegimeBias{LongMult: 1.0, ShortMult: 1.0},
	}
}

// DefaultPolicyConfig is the seeded baseline before any training.
func DefaultPolicyConfig() PolicyConfig {
	modes := make(map[string]ModePolicy, len(domain.AllModes))
	for _, m := range domain.AllModes {
		modes[string(m)] = defaultModePolicy(m)
	}
	return PolicyConfig{Modes: modes, EvaluationWindowDays: 30}
}

// ParsePolicyConfig decodes the stored config document. An empty document
// yields the defaults; a malformed one is an error so a broken policy is
// never silently replaced.
func ParsePolicyConfig(raw map[string]any) (PolicyConfig, error) {
	if len(raw) == 0 {
		return DefaultPolicyConfig(), nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("re-encoding policy config: %w", err)
	}
	var cfg PolicyConfig
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return PolicyConfig{}, fmt.Errorf("decoding policy config: %w", err)
	}
	if cfg.EvaluationWindowDays <= 0 {
		cfg.EvaluationWindowDays = 30
	}
	if cfg.Modes == nil {
		cfg.Modes = DefaultPolicyConfig().Modes
	}
	return cfg, nil
}

// ConfigDocument renders the config back to the registry's map shape.
func (c PolicyConfig) ConfigDocument() map[string]any {
	buf, _ := json.Marshal(c)
	var doc map[string]any
	_ = json.Unmarshal(buf, &doc)
	return doc
}

type snapshotAction struct {
	N          int     `json:"n"`
	Q          float64 `json:"q"`
	LastUpdate string  `json:"last_update"`
}

type snapshotContext struct {
	Actions map[string]snapshotAction `json:"actions"`
}

type banditSnapshot struct {
	Contexts map[string]snapshotContext `json:"contexts"`
}

// Restore hydrates trained state from a metrics snapshot previously produced
// by Snapshot. Unknown shapes are ignored so a schema drift degrades to a
// cold start instead of failing the nightly run.
func (b *Bandit) Restore(snapshot map[string]any) {
	if len(snapshot) == 0 {
		return
	}
	buf, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	var snap banditSnapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return
	}
	for ctx, sc := range snap.Contexts {
		t := b.table(ctx)
		for id, sa := range sc.Actions {
			stat, ok := t[id]
			if !ok {
				stat = &ActionStat{}
				t[id] = stat
			}
			stat.N = sa.N
			stat.Q = sa.Q
			if ts, err := time.Parse(time.RFC3339, sa.LastUpdate); err == nil {
				stat.LastUpdate = ts
			}
		}
	}
}
