package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/caucus/go/internal/config"
	"github.com/mcdev12/caucus/go/internal/dbconfig"
	"github.com/mcdev12/caucus/go/internal/store"
)

// runner is a background loop started alongside the server.
type runner struct {
	name string
	run  func(ctx context.Context) error
}

// setupStore builds the configured document store. The returned runners must
// be started for subscriptions and clock sync to work.
func setupStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (store.Store, []runner, func(), error) {
	if cfg.Store.Backend == config.BackendMemory {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		return store.NewMemory(clock), nil, func() {}, nil
	}

	dbCfg := dbconfig.NewConfigFromEnv()
	database, err := dbCfg.Open(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Msg("connected to database")

	pgCfg := store.DefaultPostgresConfig()
	pgCfg.DSN = dbCfg.DSN()
	pgCfg.NotifyChannel = cfg.Store.NotifyChannel
	pgCfg.ClockSyncInterval = cfg.Store.ClockSyncInterval

	pg, err := store.NewPostgres(database, clock, pgCfg)
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("failed to create postgres store: %w", err)
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, nil, err
	}

	runners := []runner{
		{name: "store listener", run: pg.Start},
		{name: "clock sync", run: pg.RunClockSync},
	}
	return pg, runners, closeDB(database), nil
}

func closeDB(database *sql.DB) func() {
	return func() {
		if err := database.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
}
