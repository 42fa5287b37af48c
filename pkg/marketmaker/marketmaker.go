// Package marketmaker keeps synthetic resting liquidity on the book.
// The maker trades like any other client: its quotes are ordinary
// resting orders, so counterparties fill against them through normal
// matching.
package marketmaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
	"github.com/openexch/simex/pkg/logging"
)

// OrderPlacer is the slice of the exchange API the maker needs.
// *exchange.Exchange satisfies it directly for in-process use.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req exchange.CreateRequest) (core.View, error)
	CancelOrder(ctx context.Context, orderID string) (core.View, error)
}

// MarketMaker replaces its quote set on every update interval.
type MarketMaker struct {
	cfg      *Config
	placer   OrderPlacer
	strategy Strategy
	limiter  *rate.Limiter

	mu     sync.Mutex
	active map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMarketMaker creates a market maker.
func NewMarketMaker(cfg *Config, placer OrderPlacer, strategy Strategy) *MarketMaker {
	ordersPerSecond := cfg.OrdersPerSecond
	if ordersPerSecond <= 0 {
		ordersPerSecond = 50
	}
	return &MarketMaker{
		cfg:      cfg,
		placer:   placer,
		strategy: strategy,
		limiter:  rate.NewLimiter(rate.Limit(ordersPerSecond), 1),
		active:   make(map[string]struct{}),
		stopCh:   make(chan struct{}),
	}
}

// Start places the initial quote set and begins the refresh loop.
func (m *MarketMaker) Start(ctx context.Context) error {
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("instrument", m.cfg.Instrument).
		Dur("update_interval", m.cfg.UpdateInterval).
		Int("levels", m.cfg.NumLevels).
		Msg("Starting market maker")

	if err := m.refreshQuotes(ctx); err != nil {
		return fmt.Errorf("placing initial quotes: %w", err)
	}

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop ends the refresh loop and pulls the maker's remaining quotes.
func (m *MarketMaker) Stop(ctx context.Context) error {
	close(m.stopCh)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for market maker to stop: %w", ctx.Err())
	}

	m.cancelAll(ctx)
	logger := logging.FromContext(ctx)
	logger.Info().Msg("Market maker stopped")
	return nil
}

func (m *MarketMaker) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.refreshQuotes(ctx); err != nil {
				logger := logging.FromContext(ctx)
				logger.Error().Err(err).Msg("Failed to refresh quotes")
			}
		}
	}
}

// refreshQuotes replaces the active quote set with a fresh one around
// the reference price.
func (m *MarketMaker) refreshQuotes(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	quotes := m.strategy.CalculateQuotes(m.cfg.ReferencePrice)
	m.cancelAll(ctx)

	for _, q := range quotes {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		view, err := m.placer.CreateOrder(ctx, exchange.CreateRequest{
			ClientID:   m.cfg.MarketMakerID,
			Instrument: m.cfg.Instrument,
			Side:       q.Side,
			Kind:       core.KindSimple,
			Quantity:   q.Quantity,
			Price:      q.Price,
		})
		if err != nil {
			logger.Error().Err(err).
				Str("side", q.Side.String()).
				Str("price", q.Price.String()).
				Msg("Failed to place quote")
			continue
		}
		// Quotes that matched on arrival are already done; only track
		// resting ones.
		state, ok := core.ParseState(view.State)
		if ok && !state.IsTerminal() {
			m.mu.Lock()
			m.active[view.OrderID] = struct{}{}
			m.mu.Unlock()
		}
	}

	logger.Debug().Int("quotes", len(quotes)).Msg("Quote set refreshed")
	return nil
}

func (m *MarketMaker) cancelAll(ctx context.Context) {
	logger := logging.FromContext(ctx)

	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.placer.CancelOrder(ctx, id); err != nil {
			logger.Error().Err(err).Str("order_id", id).Msg("Failed to cancel quote")
			continue
		}
		m.mu.Lock()
		delete(m.active, id)
		m.mu.Unlock()
	}
}
