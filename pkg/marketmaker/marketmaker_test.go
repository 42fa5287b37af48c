package marketmaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
)

func testConfig() *Config {
	return &Config{
		Instrument:        "AAPL",
		ReferencePrice:    100.0,
		NumLevels:         3,
		BaseSpreadPercent: 1.0,
		PriceStepPercent:  0.5,
		OrderSize:         100,
		UpdateInterval:    time.Hour,
		MarketMakerID:     "mm-test",
		OrdersPerSecond:   1000,
	}
}

func TestLayeredSymmetricQuoting(t *testing.T) {
	cfg := testConfig()
	strategy := NewLayeredSymmetricQuoting(cfg)

	quotes := strategy.CalculateQuotes(cfg.ReferencePrice)
	require.Len(t, quotes, 6)

	// Half of 1% spread is 0.50 off the reference, stepping 0.50 per
	// level outward.
	var bids, asks []exchange.Quote
	for _, q := range quotes {
		if q.Side == core.Buy {
			bids = append(bids, q)
		} else {
			asks = append(asks, q)
		}
	}
	require.Len(t, bids, 3)
	require.Len(t, asks, 3)

	for _, q := range bids {
		assert.True(t, q.Price.LessThan(asks[0].Price), "bid %s should be below best ask", q.Price)
		assert.Equal(t, int64(100), q.Quantity)
	}
	// Levels step outward monotonically.
	assert.True(t, bids[1].Price.LessThan(bids[0].Price))
	assert.True(t, bids[2].Price.LessThan(bids[1].Price))
	assert.True(t, asks[1].Price.GreaterThan(asks[0].Price))
	assert.True(t, asks[2].Price.GreaterThan(asks[1].Price))
}

func TestMarketMakerPlacesAndPullsQuotes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	ex := exchange.NewExchange(exchange.Options{})

	mm := NewMarketMaker(cfg, ex, NewLayeredSymmetricQuoting(cfg))
	require.NoError(t, mm.Start(ctx))

	depth := ex.Depth("AAPL")
	require.Len(t, depth, 3)
	assert.Equal(t, int64(100), depth[0].BidVolume)
	assert.Equal(t, int64(100), depth[0].AskVolume)

	// Stopping pulls every quote off the book.
	require.NoError(t, mm.Stop(ctx))
	assert.Empty(t, ex.Depth("AAPL"))
}

func TestMarketMakerQuotesAreFillable(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	ex := exchange.NewExchange(exchange.Options{})

	mm := NewMarketMaker(cfg, ex, NewLayeredSymmetricQuoting(cfg))
	require.NoError(t, mm.Start(ctx))
	defer mm.Stop(ctx)

	// A market buy fills against the maker's ask quotes.
	view, err := ex.CreateOrder(ctx, exchange.CreateRequest{
		ClientID:   "c1",
		Instrument: "AAPL",
		Side:       core.Buy,
		Kind:       core.KindSimple,
		Quantity:   150,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150), view.Filled)
	assert.Equal(t, "FILLED", view.State)
}
