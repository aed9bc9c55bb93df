package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadInstrumentTokens reads instrument_tokens.json, a symbol to Kite
// instrument token map refreshed from the exchange instrument master. A
// missing file yields nil, which disables the live tick feed.
func LoadInstrumentTokens(path string) (map[string]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading instrument tokens: %w", err)
	}
	var tokens map[string]uint32
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("error parsing instrument tokens: %w", err)
	}
	return tokens, nil
}
