package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog/log"

	"github.com/openexch/simex/pkg/client"
	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
	"github.com/openexch/simex/pkg/logging"
	"github.com/openexch/simex/pkg/marketmaker"
	"github.com/openexch/simex/pkg/protocol"
)

// wsPlacer adapts a websocket session to the order placer the maker
// drives, so the same strategy code runs in-process and standalone.
type wsPlacer struct {
	c *client.Client
}

func (p *wsPlacer) CreateOrder(ctx context.Context, req exchange.CreateRequest) (core.View, error) {
	wire := protocol.CreateOrder{
		Instrument: req.Instrument,
		Side:       req.Side.String(),
		Kind:       string(req.Kind),
		Quantity:   req.Quantity,
		SliceSize:  req.SliceSize,
	}
	if !req.Price.Equal(fpdecimal.Zero) {
		wire.LimitPrice = req.Price.String()
	}
	return p.c.CreateOrder(ctx, wire)
}

func (p *wsPlacer) CancelOrder(ctx context.Context, orderID string) (core.View, error) {
	return p.c.CancelOrder(ctx, orderID)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "The server address in the format host:port")
	flag.Parse()

	logging.Setup(logging.Config{Level: "debug", Pretty: true, Output: os.Stderr})
	logger := log.Logger
	ctx := context.Background()

	cfg, err := marketmaker.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	c, err := client.Dial(ctx, client.Options{
		URL:      fmt.Sprintf("ws://%s/ws", *serverAddr),
		ClientID: cfg.MarketMakerID,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to server")
	}
	defer c.Close()

	strategy := marketmaker.NewLayeredSymmetricQuoting(cfg)
	mm := marketmaker.NewMarketMaker(cfg, &wsPlacer{c: c}, strategy)

	if err := mm.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start market maker")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down market maker")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := mm.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		os.Exit(1)
	}
}
