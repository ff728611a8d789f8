package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/fury-esports/furybot/go/internal/dbconfig"
	"github.com/fury-esports/furybot/go/internal/discord"
	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "furybot.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(cfg.level())

	// signal-aware context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbCfg := dbconfig.NewConfigFromEnv()
	database, err := setupDatabase(ctx, dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up database")
	}
	defer database.Close()

	// Without a token every announcement is only logged.
	var (
		bot      *discord.Bot
		notifier notify.Notifier = notify.NewRecorder()
	)
	if cfg.DiscordToken != "" {
		bot, err = discord.New(cfg.DiscordToken, cfg.DiscordGuildID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create discord bot")
		}
		notifier = bot
	} else {
		log.Warn().Msg("DISCORD_TOKEN not set, announcements are logged only")
	}

	services, err := setupServices(database, cfg, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	// Mirror fired timers to NATS
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		publisher, err := events.NewNATSPublisher(ctx, nc, events.DefaultPublisherConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create NATS publisher")
		}
		services.Dispatcher.Tap(publisher.Publish)
	}

	// Wake the loop when another process writes a timer
	lcfg := timers.DefaultListenerConfig()
	lcfg.DatabaseURL = dbCfg.DSN()
	listener, err := timers.NewNotifyListener(lcfg, services.Timers)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create timer listener")
	}
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("timer listener stopped")
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := services.Timers.Run(ctx); err != nil {
			log.Error().Err(err).Msg("timer manager failed")
		}
	}()

	if bot != nil {
		if err := bot.Open(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to discord")
		}
		defer bot.Close()
		router := discord.NewRouter(services.Gamedays, services.Scrims, services.Practices, services.Teams, bot.Presence)
		if err := bot.Register(router); err != nil {
			log.Fatal().Err(err).Msg("failed to register discord handlers")
		}
	}

	// Listeners are registered and the chat connection is up, so timers may fire.
	services.Timers.MarkReady()

	server := setupServer(cfg, database, services.Timers)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("admin server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown failed")
	}

	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("timer manager did not stop in time")
	}
	log.Info().Msg("furybot shutdown complete")
}
