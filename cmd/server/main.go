package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"

	"github.com/openexch/simex/config"
	"github.com/openexch/simex/pkg/core"
	"github.com/openexch/simex/pkg/exchange"
	"github.com/openexch/simex/pkg/logging"
	"github.com/openexch/simex/pkg/marketmaker"
	"github.com/openexch/simex/pkg/messaging"
	"github.com/openexch/simex/pkg/messaging/kafka"
	"github.com/openexch/simex/pkg/server"
	"github.com/openexch/simex/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Setup(logging.Config{
		Level:  cfg.Server.LogLevel,
		Pretty: cfg.Server.LogFormat == "pretty",
	})
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Server.LogFormat == "pretty" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archive, err := setupArchive(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up archive")
	}

	sender := setupSender(ctx, cfg, logger)

	ex := exchange.NewExchange(exchange.Options{
		Archive: archive,
		Sender:  sender,
		Policy:  core.MarketPolicy(cfg.Server.MarketPolicy),
	})
	defer ex.Close()

	if err := seedBooks(ctx, cfg, ex); err != nil {
		logger.Fatal().Err(err).Msg("Failed to seed liquidity")
	}

	var maker *marketmaker.MarketMaker
	if cfg.MarketMaker.Enabled {
		mmCfg, err := marketmaker.LoadConfig()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load market maker configuration")
		}
		maker = marketmaker.NewMarketMaker(mmCfg, ex, marketmaker.NewLayeredSymmetricQuoting(mmCfg))
		if err := maker.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start market maker")
		}
	}

	srv := server.NewServer(ex, server.Config{
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		QueueSize: cfg.Server.QueueSize,
	})
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: srv.Handler(),
	}
	go func() {
		logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("Starting exchange server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to serve")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if maker != nil {
		if err := maker.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Market maker shutdown error")
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}
	logger.Info().Msg("Shutdown complete")
}

// setupArchive wires the terminal-order archive, Redis-backed when
// enabled.
func setupArchive(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.Archive, error) {
	if !cfg.Redis.Enabled {
		return store.NewMemoryArchive(), nil
	}
	client := store.NewRedisClient(store.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis order archive")
	return store.NewRedisArchive(client, cfg.Redis.KeyPrefix), nil
}

// setupSender wires fill publication, Kafka-backed when enabled, with
// the optional consumer that pretty prints the stream for development.
func setupSender(ctx context.Context, cfg *config.Config, logger zerolog.Logger) messaging.FillSender {
	if !cfg.Kafka.Enabled {
		return messaging.NopFillSender{}
	}
	sender, err := kafka.NewKafkaFillSender(cfg.Kafka.BrokerAddr, cfg.Kafka.Topic)
	if err != nil {
		logger.Warn().Err(err).Msg("Kafka unavailable - fills will not be published")
		return messaging.NopFillSender{}
	}
	logger.Info().Str("broker", cfg.Kafka.BrokerAddr).Str("topic", cfg.Kafka.Topic).Msg("Publishing fills to Kafka")

	if cfg.Kafka.ConsumeFills {
		kafka.SetupConsumer(ctx, logger, cfg.Kafka.BrokerAddr, cfg.Kafka.Topic)
	}
	return sender
}

// seedBooks rests the configured startup quotes.
func seedBooks(ctx context.Context, cfg *config.Config, ex *exchange.Exchange) error {
	for instrument, seedQuotes := range cfg.Seed {
		quotes := make([]exchange.Quote, 0, len(seedQuotes))
		for _, q := range seedQuotes {
			side, ok := core.ParseSide(q.Side)
			if !ok {
				continue
			}
			price, err := fpdecimal.FromString(q.Price)
			if err != nil {
				return err
			}
			quotes = append(quotes, exchange.Quote{Side: side, Quantity: q.Quantity, Price: price})
		}
		if err := ex.SeedLiquidity(ctx, instrument, "seed", quotes); err != nil {
			return err
		}
	}
	return nil
}
