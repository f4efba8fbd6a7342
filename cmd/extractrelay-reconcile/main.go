package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/modkit"
	"extractrelay/internal/platform/config"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	"extractrelay/internal/platform/store"

	reconcilemod "extractrelay/internal/services/reconcile/module"
	reconcilesvc "extractrelay/internal/services/reconcile/service"
)

func main() {
	var (
		fSource  = flag.String("source", "", "configured source name")
		fOrg     = flag.String("org", "", "organisation id; empty runs every organisation of the source")
		fDisable = flag.String("disable-batch", "", "batch identifier of the disable point when history is ambiguous")
		fDryRun  = flag.Bool("dry-run", false, "report what would be synthesized without writing")
	)
	flag.Parse()

	_ = godotenv.Load()
	root := config.New()
	logger.Init(logger.FromEnv())
	l := logger.Get()

	if *fSource == "" {
		l.Fatal().Msg("-source is required")
	}
	if *fDisable != "" && *fOrg == "" {
		l.Fatal().Msg("-disable-batch needs -org")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := sources.Load(root.MustString("CORE_SOURCES_FILE"))
	if err != nil {
		l.Fatal().Err(err).Msg("load sources")
	}
	src, ok := reg.Get(*fSource)
	if !ok {
		l.Fatal().Str("source", *fSource).Strs("have", reg.Names()).Msg("unknown source")
	}

	st, err := store.Open(ctx, store.FromConfig(root), store.WithLogger(*l))
	if err != nil {
		l.Fatal().Err(err).Msg("store.Open failed")
	}
	defer func() { _ = st.Close() }()

	deps := modkit.Deps{Log: *l, Cfg: root, PG: st.PG}
	ports := reconcilemod.New(deps).Ports().(reconcilemod.Ports)

	orgs := []string{*fOrg}
	if *fOrg == "" {
		if orgs, err = ports.Store.Orgs(ctx, src.Def.Name); err != nil {
			l.Fatal().Err(err).Msg("list organisations")
		}
	}

	failed := false
	for _, org := range orgs {
		res, err := ports.Gap.Gap(ctx, reconcilesvc.GapRequest{
			Source: src, Org: org, DisableBatch: *fDisable, DryRun: *fDryRun,
		})
		if err != nil {
			if *fOrg == "" && perr.IsCode(err, perr.ErrorCodeNotFound) {
				l.Debug().Str("org", org).Msg("no gap to reconcile")
				continue
			}
			failed = true
			l.Error().Err(err).Str("org", org).Msg("gap reconciliation failed")
			continue
		}
		for _, t := range res.Types {
			l.Info().
				Str("org", org).
				Str("type", t.FileType).
				Str("disable", res.Disable.Identifier).
				Str("reload", res.Reload.Identifier).
				Int("scanned", t.Scanned).
				Int("synthesized", t.Synthesized).
				Strs("emptied", res.Emptied).
				Bool("dry_run", *fDryRun).
				Msg("gap reconciled")
		}
	}
	if failed {
		stop()
		_ = st.Close()
		os.Exit(1)
	}
}
