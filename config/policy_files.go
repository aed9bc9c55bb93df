package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModeWeights is the mode_weights.json document: per-mode agent weight
// vectors plus optional blend thresholds.
type ModeWeights struct {
	Version int                       `json:"version"`
	Modes   map[string]ModeWeightSpec `json:"modes"`
	Meta    map[string]any            `json:"meta,omitempty"`
}

// ModeWeightSpec holds one mode's weight vector and thresholds.
type ModeWeightSpec struct {
	Weights    map[string]float64 `json:"weights"`
	Thresholds *BlendThresholds   `json:"thresholds,omitempty"`
}

// BlendThresholds maps blend scores to recommendation labels. Scores at or
// above StrongBuy map to Strong Buy, and so on down; scores between Sell and
// Buy are Neutral.
type BlendThresholds struct {
	StrongBuy  float64 `json:"strong_buy"`
	Buy        float64 `json:"buy"`
	Sell       float64 `json:"sell"`
	StrongSell float64 `json:"strong_sell"`
}

// DefaultBlendThresholds are used when a mode defines none.
var DefaultBlendThresholds = BlendThresholds{
	StrongBuy:  75,
	Buy:        60,
	Sell:       40,
	StrongSell: 25,
}

// WeightsFor returns the weight vector for a mode; missing modes get nil,
// which the coordinator treats as "use declared defaults".
func (mw *ModeWeights) WeightsFor(mode string) map[string]float64 {
	if mw == nil {
		return nil
	}
	if spec, ok := mw.Modes[mode]; ok {
		return spec.Weights
	}
	return nil
}

// ThresholdsFor returns the blend thresholds for a mode.
func (mw *ModeWeights) ThresholdsFor(mode string) BlendThresholds {
	if mw != nil {
		if spec, ok := mw.Modes[mode]; ok && spec.Thresholds != nil {
			return *spec.Thresholds
		}
	}
	return DefaultBlendThresholds
}

// Horizon types for performance_horizons.json.
const (
	HorizonExitOnly  = "exit_only"
	HorizonEODClose  = "eod_close"
	HorizonFixedDays = "fixed_days"
)

// HorizonSpec is one mode's evaluation horizon.
type HorizonSpec struct {
	Type string `json:"type"`
	Days int    `json:"days,omitempty"`
}

// PerformanceHorizons maps mode name to evaluation horizon.
type PerformanceHorizons map[string]HorizonSpec

// HorizonFor returns the horizon for a mode, defaulting to EOD close.
func (ph PerformanceHorizons) HorizonFor(mode string) HorizonSpec {
	if spec, ok := ph[mode]; ok {
		return spec
	}
	return HorizonSpec{Type: HorizonEODClose}
}

// LoadModeWeights reads mode_weights.json. A missing file yields nil (the
// coordinator keeps declared defaults); a corrupt file is a startup error.
func LoadModeWeights(path string) (*ModeWeights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading mode weights: %w", err)
	}
	var mw ModeWeights
	if err := json.Unmarshal(data, &mw); err != nil {
		return nil, fmt.Errorf("error parsing mode weights: %w", err)
	}
	return &mw, nil
}

// LoadPerformanceHorizons reads performance_horizons.json with the same
// missing-file semantics as LoadModeWeights.
func LoadPerformanceHorizons(path string) (PerformanceHorizons, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PerformanceHorizons{}, nil
		}
		return nil, fmt.Errorf("error reading performance horizons: %w", err)
	}
	var ph PerformanceHorizons
	if err := json.Unmarshal(data, &ph); err != nil {
		return nil, fmt.Errorf("error parsing performance horizons: %w", err)
	}
	return ph, nil
}
