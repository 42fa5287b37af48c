package marketmaker

import (
	"math"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
)

// Strategy computes the resting quotes to keep on the book for a
// reference price.
type Strategy interface {
	CalculateQuotes(referencePrice float64) []exchange.Quote
}

// LayeredSymmetricQuoting quotes NumLevels bid/ask pairs symmetrically
// around the reference price, half the base spread away and stepping
// outwards per level.
type LayeredSymmetricQuoting struct {
	cfg *Config
}

// NewLayeredSymmetricQuoting creates the strategy.
func NewLayeredSymmetricQuoting(cfg *Config) *LayeredSymmetricQuoting {
	return &LayeredSymmetricQuoting{cfg: cfg}
}

// CalculateQuotes implements Strategy.
func (s *LayeredSymmetricQuoting) CalculateQuotes(referencePrice float64) []exchange.Quote {
	baseHalfSpread := referencePrice * (s.cfg.BaseSpreadPercent / 2 / 100)
	priceStep := referencePrice * (s.cfg.PriceStepPercent / 100)

	quotes := make([]exchange.Quote, 0, s.cfg.NumLevels*2)
	for i := 1; i <= s.cfg.NumLevels; i++ {
		bidPrice := referencePrice - baseHalfSpread - float64(i-1)*priceStep
		askPrice := referencePrice + baseHalfSpread + float64(i-1)*priceStep
		if bidPrice <= 0 {
			continue
		}

		quotes = append(quotes,
			exchange.Quote{
				Side:     core.Buy,
				Quantity: s.cfg.OrderSize,
				Price:    fpdecimal.FromFloat(roundPrice(bidPrice)),
			},
			exchange.Quote{
				Side:     core.Sell,
				Quantity: s.cfg.OrderSize,
				Price:    fpdecimal.FromFloat(roundPrice(askPrice)),
			},
		)
	}
	return quotes
}

// roundPrice keeps quote prices to cent precision so level prices stay
// stable between runs.
func roundPrice(p float64) float64 {
	return math.Round(p*100) / 100
}
