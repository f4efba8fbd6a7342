package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/modkit"
	"extractrelay/internal/platform/config"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	phttp "extractrelay/internal/platform/net/http"
	"extractrelay/internal/platform/store"

	"extractrelay/internal/services/api"
	batchesmod "extractrelay/internal/services/batches/module"
	deliverymod "extractrelay/internal/services/delivery/module"
	reconcilemod "extractrelay/internal/services/reconcile/module"
)

func main() {
	fOnce := flag.Bool("once", false, "run one cycle per source and exit")
	flag.Parse()

	// a missing .env is normal outside development
	_ = godotenv.Load()

	root := config.New()
	logger.Init(logger.FromEnv())
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := sources.Load(root.MustString("CORE_SOURCES_FILE"))
	if err != nil {
		l.Fatal().Err(err).Msg("load sources")
	}

	cfg := store.FromConfig(root)
	st, err := store.Open(ctx, cfg, store.WithLogger(*l))
	if err != nil {
		l.Fatal().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	if cfg.PG.Migrate {
		if err := st.Migrate(ctx); err != nil {
			l.Fatal().Err(err).Msg("migrate failed")
		}
	}

	deps := modkit.Deps{Log: *l, Cfg: root, PG: st.PG}
	rec := reconcilemod.New(deps)
	del := deliverymod.New(deps, nil)
	batches := batchesmod.New(deps, reg,
		rec.Ports().(reconcilemod.Ports).Reconciler,
		del.Ports().(deliverymod.Ports).Deliverer,
	)
	ports := batches.Ports().(batchesmod.Ports)

	if *fOnce {
		if err := ports.Runner.RunOnce(ctx); err != nil {
			l.Fatal().Err(err).Msg("cycle failed")
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ports.Runner.Run(gctx) })

	apiCfg := root.Prefix("API_")
	if apiCfg.MayBool("ENABLED", true) {
		srv := phttp.NewServer(apiCfg)
		api.Mount(srv.Router(), api.Options{
			Config: apiCfg,
			Deps:   deps,
			Status: ports.Status,
			Health: func(ctx context.Context) error {
				return perr.WrapIf(st.Guard(ctx), perr.ErrorCodeUnavailable, "health")
			},
		})
		modkit.Mount(srv.Router(), rec, del, batches)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		l.Fatal().Err(err).Msg("extractrelay stopped")
	}
	l.Info().Msg("extractrelay stopped")
}
