// Package learning holds the offline loop: outcome evaluation, exit-profile
// simulation, and the contextual bandits that pick entry actions and exit
// profiles per market context.
package learning

import (
	"fmt"
	"math/rand"
	"sort"
	"time"
)

// ActionStat is the incremental-mean Q state for one action in one context.
type ActionStat struct {
	N          int       `json:"n"`
	Q          float64   `json:"q"`
	LastUpdate time.Time `json:"last_update"`
}

// Bandit is an ε-greedy contextual bandit. Contexts map to action value
// tables; actions below the min-trades floor are explored uniformly.
type Bandit struct {
	Epsilon            float64                           `json:"epsilon"`
	MinTradesPerAction int                               `json:"min_trades_per_action"`
	Actions            []string                          `json:"actions"`
	Contexts           map[string]map[string]*ActionStat `json:"contexts"`

	rng *rand.Rand
}

// NewBandit builds a bandit over a declared action order. rng is injected so
// selection is reproducible in tests; nil gets a time-seeded source.
func NewBandit(actions []string, epsilon float64, minTrades int, rng *rand.Rand) *Bandit {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if epsilon < 0 {
		epsilon = 0
	}
	if minTrades < 1 {
		minTrades = 1
	}
	return &Bandit{
		Epsilon:            epsilon,
		MinTradesPerAction: minTrades,
		Actions:            actions,
		Contexts:           make(map[string]map[string]*ActionStat),
		rng:                rng,
	}
}

// ContextKey builds the canonical "{mode}|{regime}|{vol}|{risk}" key.
func ContextKey(mode, regimeBucket, volBucket, riskBucket string) string {
	return fmt.Sprintf("%s|%s|%s|%s", mode, regimeBucket, volBucket, riskBucket)
}

// IntradayExitContextKey extends the base key with session and value buckets
// for the finer-grained intraday exit bandit.
func IntradayExitContextKey(base, sessionSegment, valueBucket string) string {
	return fmt.Sprintf("%s|%s|%s", base, sessionSegment, valueBucket)
}

func (b *Bandit) table(ctx string) map[string]*ActionStat {
	t, ok := b.Contexts[ctx]
	if !ok {
		t = make(map[string]*ActionStat)
		for _, a := range b.Actions {
			t[a] = &ActionStat{}
		}
		b.Contexts[ctx] = t
	}
	return t
}

// Update applies the incremental mean: n' = n+1, q' = q + (reward-q)/n'.
// Unknown actions are admitted so policy changes can add actions without
// resetting state.
func (b *Bandit) Update(ctx, action string, reward float64) {
	t := b.table(ctx)
	stat, ok := t[action]
	if !ok {
		stat = &ActionStat{}
		t[action] = stat
	}
	stat.N++
	stat.Q += (reward - stat.Q) / float64(stat.N)
	stat.LastUpdate = time.Now().UTC()
}

// Select picks an action for a context. Under-explored actions (below the
// min-trades floor) are drawn uniformly first; otherwise ε-greedy with ties
// broken by highest n, then declared action order.
func (b *Bandit) Select(ctx string) string {
	if len(b.Actions) == 0 {
		return ""
	}
	t := b.table(ctx)

	var cold []string
	for _, a := range b.Actions {
		if t[a] == nil || t[a].N < b.MinTradesPerAction {
			cold = append(cold, a)
		}
	}
	if len(cold) > 0 {
		return cold[b.rng.Intn(len(cold))]
	}

	if b.rng.Float64() < b.Epsilon {
		return b.Actions[b.rng.Intn(len(b.Actions))]
	}
	return b.best(t)
}

// Observations counts rewards seen for a context across all actions.
func (b *Bandit) Observations(ctx string) int {
	total := 0
	for _, stat := range b.Contexts[ctx] {
		if stat != nil {
			total += stat.N
		}
	}
	return total
}

func (b *Bandit) best(t map[string]*ActionStat) string {
	best := b.Actions[0]
	for _, a := range b.Actions[1:] {
		sa, sb := t[a], t[best]
		if sa == nil {
			continue
		}
		if sb == nil || sa.Q > sb.Q || (sa.Q == sb.Q && sa.N > sb.N) {
			best = a
		}
	}
	return best
}

// Snapshot returns the trained state in the policy metrics shape
// contexts[ctx].actions[id] = {n, q, last_update}.
func (b *Bandit) Snapshot() map[string]any {
	contexts := make(map[string]any, len(b.Contexts))
	keys := make([]string, 0, len(b.Contexts))
	for k := range b.Contexts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, ctx := range keys {
		actions := make(map[string]any)
		for id, stat := range b.Contexts[ctx] {
			actions[id] = map[string]any{
				"n":           stat.N,
				"q":           stat.Q,
				"last_update": stat.LastUpdate.Format(time.RFC3339),
			}
		}
		contexts[ctx] = map[string]any{"actions": actions}
	}
	return map[string]any{"contexts": contexts}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ExitReward scores a completed trade for the exit bandit.
func ExitReward(retPct, captureRatio, maxDrawdownPct float64, hitStop bool) float64 {
	stopPen := 0.0
	if hitStop {
		stopPen = 1
	}
	dd := maxDrawdownPct
	if dd > 0 {
		dd = 0
	}
	reward := 0.5*clip(retPct/2, -1, 1) +
		0.3*clip(captureRatio, 0, 1) -
		0.1*clip(-dd/4, 0, 1) -
		0.1*stopPen
	return clip(reward, -1.5, 1.5)
}

// EntryReward scores a completed trade for the entry bandit. Drawdown and
// stop penalties are pre-normalized to [0,1].
func EntryReward(retPct, ddPenalty, stopPenalty float64) float64 {
	reward := 0.6*clip(retPct/2, -1, 1) -
		0.2*clip(ddPenalty, 0, 1) -
		0.2*clip(stopPenalty, 0, 1)
	return clip(reward, -1.5, 1.5)
}
