package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregtusar/arbsync/pkg/models"
)

func TestNormalizeNonSuccessDropsScalars(t *testing.T) {
	for _, status := range []string{"waiting", "no_arbitrage", "error"} {
		t.Run(status, func(t *testing.T) {
			snap := NormalizeJSON([]byte(`{
				"status": "` + status + `",
				"message": "Waiting for valid exchange rates...",
				"crypto": "BTC",
				"lowest_price": 100.5,
				"arbitrage_after_fees": 12
			}`))

			assert.Equal(t, models.Status(status), snap.Status)
			assert.Equal(t, "Waiting for valid exchange rates...", snap.Message)
			assert.NotNil(t, snap.Opportunities)
			assert.Empty(t, snap.Opportunities)
		})
	}
}

func TestNormalizeNonSuccessIgnoresEnvelope(t *testing.T) {
	snap := NormalizeJSON([]byte(`{"status":"waiting","opportunities":[{"crypto":"BTC"}]}`))
	assert.Equal(t, models.StatusWaiting, snap.Status)
	assert.Empty(t, snap.Opportunities)
}

func TestNormalizeLegacyFlat(t *testing.T) {
	snap := NormalizeJSON([]byte(`{
		"status": "success",
		"crypto": "BTC",
		"lowest_price": 50000.12,
		"lowest_price_exchange": "coinbase",
		"highest_price": 50500.5,
		"highest_price_exchange": "kraken",
		"buy_currency": "USD",
		"sell_currency": "EUR",
		"total_fees": 40.25,
		"arbitrage_after_fees": 460.13
	}`))

	require.Equal(t, models.StatusSuccess, snap.Status)
	require.Len(t, snap.Opportunities, 1)
	assert.Equal(t, models.ArbitrageOpportunity{
		Crypto:               "BTC",
		LowestPrice:          50000.12,
		LowestPriceExchange:  "coinbase",
		HighestPrice:         50500.5,
		HighestPriceExchange: "kraken",
		BuyCurrency:          "USD",
		SellCurrency:         "EUR",
		TotalFees:            40.25,
		ArbitrageAfterFees:   460.13,
	}, snap.Opportunities[0])
}

func TestNormalizeLegacyFlatDefaults(t *testing.T) {
	snap := NormalizeJSON([]byte(`{"status":"success","crypto":"ETH","arbitrage_after_fees":-3.5}`))

	require.Len(t, snap.Opportunities, 1)
	opp := snap.Opportunities[0]
	assert.Equal(t, "ETH", opp.Crypto)
	assert.Equal(t, -3.5, opp.ArbitrageAfterFees)
	assert.Equal(t, "", opp.LowestPriceExchange)
	assert.Equal(t, "", opp.SellCurrency)
	assert.Zero(t, opp.LowestPrice)
	assert.Zero(t, opp.SpreadPercentage)
	assert.Zero(t, opp.ProfitPercentage)
}

func TestNormalizeEnvelopePreservesOrder(t *testing.T) {
	snap := NormalizeJSON([]byte(`{
		"status": "success",
		"opportunities": [
			{"crypto":"BTC","arbitrage_after_fees":5,"spread_percentage":1.2,"profit_percentage":0.8},
			{"crypto":"ETH","arbitrage_after_fees":9},
			{"crypto":"SOL","arbitrage_after_fees":1}
		]
	}`))

	require.Equal(t, models.StatusSuccess, snap.Status)
	require.Len(t, snap.Opportunities, 3)
	assert.Equal(t, "BTC", snap.Opportunities[0].Crypto)
	assert.Equal(t, "ETH", snap.Opportunities[1].Crypto)
	assert.Equal(t, "SOL", snap.Opportunities[2].Crypto)
	assert.Equal(t, 1.2, snap.Opportunities[0].SpreadPercentage)
	assert.Equal(t, 0.8, snap.Opportunities[0].ProfitPercentage)
	assert.Zero(t, snap.Opportunities[1].SpreadPercentage)
	assert.Zero(t, snap.Opportunities[1].ProfitPercentage)
}

func TestNormalizeEmptyEnvelope(t *testing.T) {
	snap := NormalizeJSON([]byte(`{"status":"success","opportunities":[]}`))
	assert.Equal(t, models.StatusNoArbitrage, snap.Status)
	assert.Empty(t, snap.Opportunities)
	assert.NotEmpty(t, snap.Message)
}

func TestNormalizeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `{{`,
		"array":               `[1,2]`,
		"missing status":      `{"crypto":"BTC"}`,
		"numeric status":      `{"status":1}`,
		"bad opportunities":   `{"status":"success","opportunities":"BTC"}`,
		"bad flat field type": `{"status":"success","lowest_price":"cheap"}`,
		"empty status":        `{"status":""}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			snap := NormalizeJSON([]byte(payload))
			assert.Equal(t, models.StatusError, snap.Status)
			assert.Equal(t, msgMalformed, snap.Message)
			assert.NotNil(t, snap.Opportunities)
			assert.Empty(t, snap.Opportunities)
		})
	}
}

func TestNormalizeNullOpportunitiesFallsBackToFlat(t *testing.T) {
	snap := NormalizeJSON([]byte(`{"status":"success","opportunities":null,"crypto":"BTC"}`))
	require.Len(t, snap.Opportunities, 1)
	assert.Equal(t, "BTC", snap.Opportunities[0].Crypto)
}

func TestClientDataServerTime(t *testing.T) {
	cd, err := ParseClientData([]byte(`{"type":"arbitrage_update","data":{"status":"waiting"},"timestamp":"2024-11-02T10:15:30.123456"}`))
	require.NoError(t, err)
	assert.Equal(t, UpdateTypeArbitrage, cd.Type)

	ts, ok := cd.ServerTime()
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())
	assert.Equal(t, 123456000, ts.Nanosecond())

	cd.Timestamp = "2024-11-02T10:15:30Z"
	_, ok = cd.ServerTime()
	assert.True(t, ok)

	cd.Timestamp = "yesterday"
	_, ok = cd.ServerTime()
	assert.False(t, ok)
}
