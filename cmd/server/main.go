package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"cake-server/internal/api"
	"cake-server/internal/auth"
	"cake-server/internal/config"
	"cake-server/internal/core"
	database "cake-server/internal/db"
	"cake-server/internal/entities"
	"cake-server/internal/fanout"
	"cake-server/internal/lookup"
	"cake-server/internal/metrics"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, run).Execute())
}

func setupLogging(cfg *config.Config) {
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	secret := cfg.Secret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		secret = hex.EncodeToString(buf)
		log.Warn().Msg("No --secret given, device tokens will not survive a restart")
	}

	m := metrics.New()
	bus := fanout.NewBus(cfg.SubscriberBuffer, log.Logger)
	defer bus.Close()

	opts := core.Options{Mailbox: cfg.Mailbox, Recorder: m}

	var journal *database.Journal
	var states []core.RoomState
	if cfg.Database != "" {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return err
		}
		journal = database.NewJournal(db, database.DefaultQueue)
		defer journal.Close()

		if states, err = journal.Load(); err != nil {
			return err
		}
		opts.Journal = journal
	} else {
		log.Warn().Msg("Persistence disabled")
	}

	rooms, err := core.NewRooms(bus, opts)
	if err != nil {
		return err
	}
	defer rooms.Close()
	if err := rooms.Restore(states); err != nil {
		return err
	}
	m.Gauges(rooms.Count, bus.Subscribers)

	client := &http.Client{Timeout: cfg.LookupTimeout}
	search, err := lookup.NewService([]lookup.Provider{
		lookup.NewTMDB(cfg.TMDBKey, cfg.TMDBURL, client),
		lookup.NewWikidata(cfg.WikidataURL, "fr", client),
	}, cfg.LookupCache, cfg.LookupTimeout, m)
	if err != nil {
		return err
	}
	if cfg.TMDBKey == "" {
		log.Warn().Str("source", string(entities.SourceTMDB)).Msg("No api key, lookups will be empty")
	}

	server := api.NewServer(api.Options{
		Rooms:          rooms,
		Identity:       auth.NewIdentity(secret, cfg.TokenTTL),
		Search:         search,
		Metrics:        m.Handler(),
		Rate:           rate.Limit(cfg.Rate),
		Burst:          cfg.Burst,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	if err := api.Serve(ctx, cfg.Addr, server); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
