// Package api mounts the status API: health, source state and manual batch resolution
package api

import (
	"context"
	"net/http"

	"extractrelay/internal/core/version"
	"extractrelay/internal/modkit"
	"extractrelay/internal/platform/config"
	phttp "extractrelay/internal/platform/net/http"
	"extractrelay/internal/platform/net/middleware"
	"extractrelay/internal/services/batches/domain"

	statusmod "extractrelay/internal/services/api/status/module"
)

// Options are the API options
type Options struct {
	Config config.Conf
	Deps   modkit.Deps
	Status domain.StatusPort
	// Health reports backend reachability; nil means always healthy
	Health func(ctx context.Context) error
}

// Mount installs the middleware stack, /healthz and the versioned status routes on r
func Mount(r phttp.Router, opt Options) {
	r.Use(middleware.Stack(middleware.CORSOptions{
		AllowedOrigins: opt.Config.MayCSV("CORS_ORIGINS", nil),
	})...)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if opt.Health != nil {
			if err := opt.Health(req.Context()); err != nil {
				phttp.RespondError(w, req, err)
				return
			}
		}
		phttp.RespondOK(w, req, version.Info())
	})

	modkit.Mount(r, statusmod.New(opt.Deps, "/v1", opt.Status))
}
