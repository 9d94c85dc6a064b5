package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/dbconfig"
	"github.com/draftlab/draftroom/go/internal/mirror"
	"github.com/draftlab/draftroom/go/internal/relay"
)

// The mirror service follows the relay stream and writes the durable record
// of every draft: committed picks and room status, idempotently.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := dbconfig.NewConfigFromEnv()
	store, err := mirror.Connect(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure schema")
	}

	consumerCfg := relay.DefaultConsumerConfig()
	if url := os.Getenv("NATS_URL"); url != "" {
		consumerCfg.URL = url
	}
	consumer, err := relay.NewConsumer(store.Handler(), consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create relay consumer")
	}
	defer consumer.Close()

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", consumerCfg.URL).
		Msg("starting draft pick mirror")

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("relay consumer failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	cancel()
	log.Info().Msg("draft pick mirror shutdown complete")
}
