package agents

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"arise-trading-engine/internal/domain"
)

// Blend is the coordinator output for one symbol.
type Blend struct {
	Symbol     string   `json:"symbol"`
	BlendScore float64  `json:"blend_score"`
	Confidence string   `json:"confidence"`
	Results    []Result `json:"results"`
}

// Coordinator fans a symbol out to every registered agent with a per-agent
// timeout and blends scores by weight. Agent order is the declaration order
// and is the tie-break everywhere order matters.
type Coordinator struct {
	agents       []Agent
	agentTimeout time.Duration
	log          zerolog.Logger
}

// NewCoordinator registers agents in declaration order.
func NewCoordinator(agents []Agent, agentTimeout time.Duration, log zerolog.Logger) *Coordinator {
	if agentTimeout <= 0 {
		agentTimeout = 20 * time.Second
	}
	return &Coordinator{
		agents:       agents,
		agentTimeout: agentTimeout,
		log:          log.With().Str("component", "coordinator").Logger(),
	}
}

// Agents exposes the registered set in declaration order.
func (c *Coordinator) Agents() []Agent { return c.agents }

// degraded is the stand-in result for a failed or timed-out agent. It never
// fails the run; the error rides along in the reasoning.
func degraded(agent Agent, symbol string, err error) Result {
	return Result{
		AgentType:  agent.Name(),
		Symbol:     symbol,
		Score:      50,
		Confidence: domain.ConfidenceLow,
		Reasoning:  fmt.Sprintf("analysis unavailable: %v", err),
	}
}

// Analyze runs every agent concurrently for one symbol and blends scores.
// weightOverrides, when non-nil, replaces agent declared weights by name;
// agents absent from the map keep their declared weight.
func (c *Coordinator) Analyze(ctx context.Context, in Input, weightOverrides map[string]float64) Blend {
	results := make([]Result, len(c.agents))

	type slot struct {
		idx int
		res Result
	}
	done := make(chan slot, len(c.agents))

	for i, agent := range c.agents {
		go func(i int, agent Agent) {
			agentCtx, cancel := context.WithTimeout(ctx, c.agentTimeout)
			defer cancel()

			resCh := make(chan Result, 1)
			errCh := make(chan error, 1)
			go func() {
				res, err := agent.Analyze(agentCtx, in)
				if err != nil {
					errCh <- err
					return
				}
				resCh <- res
			}()

			select {
			case res := <-resCh:
				res.AgentType = agent.Name()
				res.Symbol = in.Symbol
				res.Score = clampScore(res.Score)
				done <- slot{i, res}
			case err := <-errCh:
				done <- slot{i, degraded(agent, in.Symbol, err)}
			case <-agentCtx.Done():
				done <- slot{i, degraded(agent, in.Symbol, agentCtx.Err())}
			}
		}(i, agent)
	}

	for range c.agents {
		s := <-done
		results[s.idx] = s.res
	}

	return Blend{
		Symbol:     in.Symbol,
		BlendScore: c.blend(results, weightOverrides),
		Confidence: c.blendConfidence(results, weightOverrides),
		Results:    results,
	}
}

func (c *Coordinator) effectiveWeight(agent Agent, overrides map[string]float64) float64 {
	if overrides != nil {
		if w, ok := overrides[agent.Name()]; ok {
			return w
		}
	}
	return agent.Weight()
}

// blend computes the weighted mean of agent scores. Zero total weight (all
// agents overridden to zero) degrades to neutral 50.
func (c *Coordinator) blend(results []Result, overrides map[string]float64) float64 {
	var weightedSum, totalWeight float64
	for i, agent := range c.agents {
		w := c.effectiveWeight(agent, overrides)
		if w <= 0 {
			continue
		}
		weightedSum += results[i].Score * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 50
	}
	return weightedSum / totalWeight
}

// blendConfidence is the weight-majority confidence across weighted agents.
// Ties resolve toward the earlier-declared agent's label.
func (c *Coordinator) blendConfidence(results []Result, overrides map[string]float64) string {
	byLabel := map[string]float64{}
	firstSeen := map[string]int{}
	for i, agent := range c.agents {
		w := c.effectiveWeight(agent, overrides)
		if w <= 0 {
			continue
		}
		label := results[i].Confidence
		if label == "" {
			label = domain.ConfidenceLow
		}
		byLabel[label] += w
		if _, ok := firstSeen[label]; !ok {
			firstSeen[label] = i
		}
	}
	if len(byLabel) == 0 {
		return domain.ConfidenceLow
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(a, b int) bool {
		if byLabel[labels[a]] != byLabel[labels[b]] {
			return byLabel[labels[a]] > byLabel[labels[b]]
		}
		return firstSeen[labels[a]] < firstSeen[labels[b]]
	})
	return labels[0]
}

// RecommendationFor maps a blend score to a label using the thresholds.
// Scores in the Buy band with high conviction map to Strong Buy, and the
// mirror on the sell side; the middle band is Neutral.
func RecommendationFor(score, strongBuy, buy, sell, strongSell float64) string {
	switch {
	case score >= strongBuy:
		return domain.RecStrongBuy
	case score >= buy:
		return domain.RecBuy
	case score <= strongSell:
		return domain.RecStrongSell
	case score <= sell:
		return domain.RecSell
	default:
		return domain.RecNeutral
	}
}
