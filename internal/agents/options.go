package agents

import (
	"context"
	"fmt"
)

// OptionsAgent reads open-interest and volume posture. OI building alongside
// price is continuation; OI building against price is a crowded wrong-way
// trade waiting to unwind.
type OptionsAgent struct{}

func (OptionsAgent) Name() string    { return "options" }
func (OptionsAgent) Weight() float64 { return 0.12 }

func (a OptionsAgent) Analyze(_ context.Context, in Input) (Result, error) {
	candles := in.Daily
	if len(candles) < 10 {
		return Result{}, fmt.Errorf("need 10 daily candles for %s, have %d", in.Symbol, len(candles))
	}

	last := candles[len(candles)-1]
	prev := candles[len(candles)-2]

	score := 50.0
	signals := make([]Signal, 0, 3)

	priceUp := last.Close > prev.Close
	if last.OI > 0 && prev.OI > 0 {
		oiUp := last.OI > prev.OI
		oiChgPct := (last.OI - prev.OI) / prev.OI * 100
		switch {
		case oiUp && priceUp:
			score += 14
			signals = append(signals, Signal{Type: "OI_PRICE", Value: oiChgPct, Signal: "LONG_BUILDUP"})
		case oiUp && !priceUp:
			score -= 14
			signals = append(signals, Signal{Type: "OI_PRICE", Value: oiChgPct, Signal: "SHORT_BUILDUP"})
		case !oiUp && priceUp:
			score += 6
			signals = append(signals, Signal{Type: "OI_PRICE", Value: oiChgPct, Signal: "SHORT_COVERING"})
		default:
			score -= 6
			signals = append(signals, Signal{Type: "OI_PRICE", Value: oiChgPct, Signal: "LONG_UNWINDING"})
		}
	}

	// Volume confirmation against the trailing 10-bar average.
	var volSum float64
	for _, c := range candles[len(candles)-10:] {
		volSum += c.Volume
	}
	avgVol := volSum / 10
	if avgVol > 0 && last.Volume > 1.5*avgVol {
		if priceUp {
			score += 8
		} else {
			score -= 8
		}
		signals = append(signals, Signal{Type: "VOLUME_SURGE", Value: last.Volume / avgVol, Signal: "CONFIRMED"})
	}

	score = clampScore(score)
	return Result{
		Score:      score,
		Confidence: confidenceFromDistance(score),
		Signals:    signals,
		Reasoning:  "open-interest and volume posture",
	}, nil
}
