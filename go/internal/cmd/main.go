package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/draftlab/draftroom/go/internal/gateway"
	"github.com/draftlab/draftroom/go/internal/relay"
	"github.com/draftlab/draftroom/go/internal/room"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log.Info().
		Str("port", cfg.Server.Port).
		Str("nats_url", cfg.NATS.URL).
		Msg("starting draft room gateway")

	// Relay room events onto JetStream for the pick mirror and any other
	// consumers. The gateway still serves rooms if NATS is down.
	var sink room.EventSink
	publisherCfg := relay.DefaultPublisherConfig()
	publisherCfg.URL = cfg.NATS.URL
	publisherCfg.StreamName = cfg.NATS.StreamName
	publisherCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
	publisher, err := relay.NewPublisher(publisherCfg)
	if err != nil {
		log.Warn().Err(err).Msg("event relay unavailable, running without persistence")
	} else {
		sink = publisher
		defer publisher.Close()
	}

	registry := room.NewRegistry(room.RegistryConfig{
		Retention:     time.Duration(cfg.Rooms.Retention),
		SweepInterval: time.Duration(cfg.Rooms.SweepInterval),
	}, clockwork.NewRealClock(), sink)

	validator := tokenValidator(cfg)
	cm := gateway.NewConnectionManager(registry, validator, gateway.DefaultConnectionConfig())
	handler := gateway.NewHandler(registry, cm, validator)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      c.Handler(mux),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go registry.Run(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("draft room gateway shutdown complete")
}

// tokenValidator resolves tokens from the static config map. Development
// only.
func tokenValidator(cfg *Config) gateway.TokenValidator {
	return func(token string) (uuid.UUID, error) {
		if id, ok := cfg.Auth.Tokens[token]; ok {
			return id, nil
		}
		// Fall back to tokens that are themselves participant UUIDs, which
		// keeps local testing scriptable.
		if id, err := uuid.Parse(token); err == nil {
			return id, nil
		}
		return uuid.Nil, errors.New("unknown token")
	}
}
