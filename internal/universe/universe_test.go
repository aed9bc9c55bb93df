package universe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	assert.Len(t, Resolve(Nifty50), 50)
	assert.Len(t, Resolve(BankNifty), 13)
	assert.Contains(t, Resolve(BankNifty), "HDFCBANK")
	// Unknown names fall back to the default universe.
	assert.Equal(t, Resolve(Nifty50), Resolve("no-such-universe"))
}

func TestAlwaysOnIsDeduped(t *testing.T) {
	on := AlwaysOn()
	seen := map[string]int{}
	for _, s := range on {
		seen[s]++
	}
	for s, n := range seen {
		assert.Equal(t, 1, n, "duplicate always-on symbol %s", s)
	}
	// SBIN is in both NIFTY50 and BANKNIFTY; it must appear exactly once.
	assert.Equal(t, 1, seen["SBIN"])
}

func TestExchangeRouting(t *testing.T) {
	assert.Equal(t, "NSE", Exchange("SBIN"))
	assert.Equal(t, "NSE", Exchange("M&M"))
	assert.Equal(t, "NFO", Exchange("NIFTY25DEC24000CE"))
	assert.Equal(t, "NFO", Exchange("BANKNIFTY25JAN51000PE"))
	assert.Equal(t, "NFO", Exchange("RELIANCE25DECFUT"))
	// FUT suffix without digits is a plain symbol, not a contract.
	assert.Equal(t, "NSE", Exchange("SOMEFUT"))
}
