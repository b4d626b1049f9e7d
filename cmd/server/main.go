package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/birddigital/voicebridge/pkg/bridge"
	"github.com/birddigital/voicebridge/pkg/callstore"
	"github.com/birddigital/voicebridge/pkg/config"
	"github.com/birddigital/voicebridge/pkg/httpapi"
	"github.com/birddigital/voicebridge/pkg/orchestrator"
	"github.com/birddigital/voicebridge/pkg/pricing"
	"github.com/birddigital/voicebridge/pkg/realtime"
	"github.com/birddigital/voicebridge/pkg/twilio"
)

func main() {
	// Missing .env is fine: production sets real environment variables.
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store callstore.Store
	var settingsStore twilio.SettingsStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database pool")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("database unreachable")
		}
		store = callstore.NewPostgresStore(pool)
		settingsStore = twilio.NewPostgresSettingsStore(pool)
		log.Info().Msg("using postgres store")
	} else {
		store = callstore.NewMemoryStore()
		log.Warn().Msg("DATABASE_URL not set, call records are in-memory only")
	}

	creds := twilio.NewCredentialProvider(settingsStore)
	telephony := twilio.NewClient(creds)

	orc := orchestrator.New(orchestrator.Config{
		Store:               store,
		Telephony:           telephony,
		Pricer:              pricing.NewCalculator(cfg.RateCentsPerMinute),
		MediaStreamBaseURL:  cfg.MediaStreamBaseURL(),
		StatusCallbackURL:   cfg.StatusCallbackURL(),
		DefaultVoice:        cfg.DefaultVoice,
		DefaultGreeting:     cfg.DefaultGreeting,
		DefaultSystemPrompt: cfg.DefaultSystemPrompt,
		Log:                 log,
	})

	hub := bridge.NewHub(bridge.HubConfig{
		Dialer: &realtime.Dialer{
			APIKey: cfg.OpenAIKey,
			Model:  cfg.RealtimeModel,
		},
		Store:               store,
		Events:              orc,
		DefaultVoice:        cfg.DefaultVoice,
		DefaultInstructions: cfg.DefaultSystemPrompt,
		DefaultGreeting:     cfg.DefaultGreeting,
		Log:                 log,
	})

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.New(orc, hub, log).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("public_host", cfg.PublicHost).Msg("voice bridge listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// Tear down active relays first so both sockets of every live call
	// get a proper close frame.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}
}
