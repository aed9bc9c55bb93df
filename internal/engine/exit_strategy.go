package engine

import (
	"arise-trading-engine/internal/domain"
	"arise-trading-engine/internal/learning"
)

// ATR multiples for the scalping exit ladder.
const (
	scalpTargetATRMult = 1.5
	scalpStopATRMult   = 1.0
	scalpTrailActMult  = 0.8
	scalpTrailDistMult = 0.5
)

// scalpingExitStrategy derives percent levels from the symbol's recent ATR,
// floored so a dead-calm tape still leaves room for fills.
func scalpingExitStrategy(price, atrPct, atrFloorPct float64, maxHoldMins int, dir domain.Direction) *domain.ExitStrategy {
	if atrPct < atrFloorPct {
		atrPct = atrFloorPct
	}
	if maxHoldMins <= 0 {
		maxHoldMins = 60
	}

	targetPct := scalpTargetATRMult * atrPct
	stopPct := scalpStopATRMult * atrPct
	sign := dir.Sign()

	return &domain.ExitStrategy{
		TargetPct:        targetPct,
		StopPct:          stopPct,
		TargetPrice:      price * (1 + sign*targetPct/100),
		StopLossPrice:    price * (1 - sign*stopPct/100),
		MaxHoldMins:      maxHoldMins,
		TrailActivatePct: scalpTrailActMult * atrPct,
		TrailDistancePct: scalpTrailDistMult * atrPct,
		Ladder: &domain.TargetsLadder{
			TP1Pct: 0.5 * targetPct,
			TP2Pct: targetPct,
			TP3Pct: 1.5 * targetPct,
		},
	}
}

// profileExitStrategy projects a policy exit profile onto concrete price
// levels for a pick. rr_multiple targets resolve against the stop distance.
func profileExitStrategy(price float64, profile domain.ExitProfile, dir domain.Direction) *domain.ExitStrategy {
	sign := dir.Sign()

	stopPct := profile.Stop.Value
	if profile.Stop.Type == "price" && price > 0 {
		stopPct = sign * (price - profile.Stop.Value) / price * 100
	}
	if stopPct < 0 {
		stopPct = -stopPct
	}

	targetPct := profile.Target.Value
	switch profile.Target.Type {
	case "rr_multiple":
		targetPct = profile.Target.Value * stopPct
	case "price":
		if price > 0 {
			targetPct = sign * (profile.Target.Value - price) / price * 100
		}
	}
	if targetPct < 0 {
		targetPct = -targetPct
	}

	strategy := &domain.ExitStrategy{
		TargetPct:     targetPct,
		StopPct:       stopPct,
		TargetPrice:   price * (1 + sign*targetPct/100),
		StopLossPrice: price * (1 - sign*stopPct/100),
		ExitProfileID: profile.ID,
	}
	if profile.TimeStop.Enabled {
		strategy.MaxHoldMins = profile.TimeStop.MaxHoldMinutes
	}
	if profile.Trailing.Enabled {
		act, dist := profile.Trailing.ActivationValue, profile.Trailing.TrailValue
		if profile.Trailing.ActivationType == "rr_multiple" {
			act = profile.Trailing.ActivationValue * stopPct
		}
		if profile.Trailing.TrailType == "rr_multiple" {
			dist = profile.Trailing.TrailValue * stopPct
		}
		strategy.TrailActivatePct = act
		strategy.TrailDistancePct = dist
	}
	return strategy
}

// policySelection holds the per-run view of the active policy: hydrated
// bandits per mode, ready for online action selection.
type policySelection struct {
	modePolicy  learning.ModePolicy
	exitBandit  *learning.Bandit
	entryBandit *learning.Bandit
}

// selectExitProfile picks a profile id through the exit bandit and resolves
// it against the declared profiles, falling back to the configured default.
func (s *policySelection) selectExitProfile(banditCtx string) (domain.ExitProfile, string) {
	id := ""
	if s.exitBandit != nil {
		id = s.exitBandit.Select(banditCtx)
	}
	if profile, ok := s.modePolicy.ProfileByID(id); ok {
		return profile, id
	}
	fallback := s.modePolicy.ExitBandit.DefaultAction
	if profile, ok := s.modePolicy.ProfileByID(fallback); ok {
		return profile, fallback
	}
	if len(s.modePolicy.ExitProfiles) > 0 {
		p := s.modePolicy.ExitProfiles[0]
		return p, p.ID
	}
	return domain.ExitProfile{}, ""
}

// selectEntryAction picks the entry action for a direction. Before any
// reward has been observed for the context the configured default action is
// returned. The policy's regime bias caps the result afterwards.
func (s *policySelection) selectEntryAction(banditCtx string, dir domain.Direction) string {
	action := s.modePolicy.EntryBandit.DefaultAction
	if action == "" {
		action = learning.ActionEnterFull
	}
	if s.entryBandit != nil && s.entryBandit.Observations(banditCtx) > 0 {
		if selected := s.entryBandit.Select(banditCtx); selected != "" {
			action = selected
		}
	}
	return s.applyRegimeBias(action, dir)
}

// applyRegimeBias downgrades an entry action when the active policy caps
// exposure for the pick's direction: a zero multiplier skips the entry, a
// sub-1.0 multiplier halves a full entry.
func (s *policySelection) applyRegimeBias(action string, dir domain.Direction) string {
	bias := s.modePolicy.RegimeBias
	if bias == nil {
		return action
	}
	mult := bias.LongMult
	if dir == domain.Short {
		mult = bias.ShortMult
	}
	switch {
	case mult <= 0:
		return learning.ActionSkip
	case mult < 1 && action == learning.ActionEnterFull:
		return learning.ActionEnterHalf
	default:
		return action
	}
}
