package binancefeed

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/core"
)

func TestTickFromEvent(t *testing.T) {
	tick, ok := tickFromEvent(&binance.WsBookTickerEvent{
		Symbol:       "btcusdt",
		BestBidPrice: "112999.50",
		BestAskPrice: "113001.00",
	})
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, 112999.50, tick.Bid)
	assert.Equal(t, 113001.00, tick.Ask)

	_, ok = tickFromEvent(&binance.WsBookTickerEvent{BestBidPrice: "nan?", BestAskPrice: "1"})
	assert.False(t, ok)

	_, ok = tickFromEvent(&binance.WsBookTickerEvent{BestBidPrice: "0", BestAskPrice: "1"})
	assert.False(t, ok)
}

func TestCandleFromKline(t *testing.T) {
	c := candleFromKline("BTCUSDT", core.TimeframeM5, &binance.Kline{
		OpenTime: 1_700_000_100_000,
		Open:     "112000.1",
		High:     "112500.2",
		Low:      "111900.3",
		Close:    "112400.4",
		Volume:   "35.5",
	})
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, core.TimeframeM5, c.Timeframe)
	assert.True(t, c.Complete)
	assert.Equal(t, 112000.1, c.Open)
	assert.Equal(t, 112400.4, c.Close)
	assert.Equal(t, int64(1_700_000_100), c.Time.Unix())
}

func TestInfoFromSymbolFilters(t *testing.T) {
	info, err := infoFromSymbol(binance.Symbol{
		Symbol: "BTCUSDT",
		Filters: []map[string]any{
			{"filterType": "LOT_SIZE", "minQty": "0.00001", "maxQty": "9000", "stepSize": "0.00001"},
			{"filterType": "PRICE_FILTER", "minPrice": "0.01", "maxPrice": "1000000", "tickSize": "0.01"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.00001, info.VolumeMin)
	assert.Equal(t, 9000.0, info.VolumeMax)
	assert.Equal(t, 0.01, info.Point)
	assert.Equal(t, 2, info.Digits)
	assert.Equal(t, 1.0, info.ContractSize)
}

func TestInfoFromSymbolMalformedFilter(t *testing.T) {
	_, err := infoFromSymbol(binance.Symbol{
		Symbol:  "BTCUSDT",
		Filters: []map[string]any{{"filterType": "LOT_SIZE", "minQty": "x"}},
	})
	assert.Error(t, err)
}

func TestDigitsOf(t *testing.T) {
	assert.Equal(t, 0, digitsOf(1))
	assert.Equal(t, 2, digitsOf(0.01))
	assert.Equal(t, 5, digitsOf(0.00001))
}
