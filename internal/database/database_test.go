package database

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arise-trading-engine/internal/domain"
)

func TestRunIDFor(t *testing.T) {
	at := time.Date(2026, 8, 26, 5, 30, 0, 0, time.UTC)
	assert.Equal(t, "nifty50:Intraday:2026-08-26T05:30:00Z", RunIDFor("nifty50", domain.ModeIntraday, at))

	// Non-UTC inputs normalize to the same id.
	ist := time.FixedZone("IST", 5*3600+1800)
	assert.Equal(t,
		RunIDFor("nifty50", domain.ModeIntraday, at),
		RunIDFor("nifty50", domain.ModeIntraday, at.In(ist)))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	got := nullIfEmpty("NIFTY50")
	require.NotNil(t, got)
	assert.Equal(t, "NIFTY50", *got)
}

func TestNewRepositoryRetentionDefault(t *testing.T) {
	r := NewRepository(nil, 0, zerolog.Nop())
	assert.Equal(t, 90, r.retentionDays)

	r = NewRepository(nil, 30, zerolog.Nop())
	assert.Equal(t, 30, r.retentionDays)
}
