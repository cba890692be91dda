package main

import (
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/caucus/go/internal/caucus"
	"github.com/mcdev12/caucus/go/internal/clockskew"
	"github.com/mcdev12/caucus/go/internal/config"
	"github.com/mcdev12/caucus/go/internal/store"
)

type Services struct {
	Caucus   *caucus.Service
	RPC      *caucus.RPC
	Resolver *clockskew.Resolver
}

func setupServices(s store.Store, cfg *config.Config, clock clockwork.Clock) *Services {
	// Store → Resolver → App → Service
	resolver := clockskew.NewResolver(clock)
	app := caucus.NewApp(s, resolver)
	watcher := caucus.NewWatcher(s, clock, resolver, cfg.Caucus.RedrawInterval)

	return &Services{
		Caucus:   caucus.NewService(app, watcher),
		RPC:      caucus.NewRPC(app),
		Resolver: resolver,
	}
}
