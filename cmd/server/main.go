package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prsnl/kgraph/internal/bootstrap"
	"github.com/prsnl/kgraph/internal/config"
	"github.com/prsnl/kgraph/internal/server"
	mid "github.com/prsnl/kgraph/internal/server/middleware"
	"github.com/prsnl/kgraph/internal/util"
	"github.com/prsnl/kgraph/pkg/logger"
	"github.com/prsnl/kgraph/pkg/logger/console"
	"github.com/prsnl/kgraph/pkg/store"

	"github.com/MicahParks/keyfunc/v3"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Setup(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	defer rt.Close()

	app := &mid.App{
		Store:        rt.Store,
		Snapshots:    store.NewSnapshotReader(rt.Store),
		Orchestrator: rt.Orchestrator,
		Metrics:      rt.Metrics,
		Config:       cfg,
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
	}
	if cfg.Server.AuthEnabled {
		jwksURL := util.GetEnv("AUTH_URL") + "/jwks"
		k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Key = k
	}

	e := server.New(app)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Orchestrator.Run(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx, e, cfg.Server.Port)
	})
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("Server stopped", "err", err)
	}
	logger.Info("Server stopped")
}
