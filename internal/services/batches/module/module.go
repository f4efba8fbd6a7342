// Package module provides the batch lifecycle module
package module

import (
	"context"
	"os"

	"github.com/google/uuid"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/adapters/transport"
	"extractrelay/internal/adapters/transport/gcs"
	"extractrelay/internal/adapters/transport/local"
	"extractrelay/internal/modkit"
	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	phttp "extractrelay/internal/platform/net/http"
	"extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/batches/guardrails"
	"extractrelay/internal/services/batches/repo"
	"extractrelay/internal/services/batches/service"
	"extractrelay/internal/services/batches/storage"
)

// Ports defines the batch module ports
type Ports struct {
	Runner domain.RunnerPort
	Status domain.StatusPort
	// Store binds the batch repo for sibling services
	Store domain.StorageRepo
}

// Module implements the batch module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the batch module. rec and del may be nil to stop the pipeline
// after splitting
func New(deps modkit.Deps, reg *sources.Registry, rec domain.Reconciler, del domain.Deliverer) *Module {
	deps = deps.Named("batches")
	opts := FromConfig(deps.Cfg)

	lease := guardrails.NoLease
	if opts.EnableLeases {
		host, _ := os.Hostname()
		lease = guardrails.MakeSourceLease(deps, host+"/"+uuid.NewString(), opts.LeaseTTL)
	}

	db := deps.PG
	if db != nil {
		db = repokit.WithBeginHooks(db, repokit.LockTimeout(opts.LockTimeout))
	}
	binder := repo.NewPG()
	svc := service.New(db, binder, reg, Opener(opts.GCSEndpoint), service.Config{
		Layout: storage.Layout{TempRoot: opts.TempRoot, PermRoot: opts.PermRoot},
		Timeouts: guardrails.Timeouts{
			Cycle:    opts.CycleTimeout,
			Download: opts.DownloadTimeout,
			Split:    opts.SplitTimeout,
			Deliver:  opts.DeliverTimeout,
		},
		DownloadRetries: opts.DownloadRetries,
		RetryBase:       opts.RetryBase,
	}, lease)
	if rec != nil {
		svc.WithReconciler(rec)
	}
	if del != nil {
		svc.WithDeliverer(del)
	}

	return &Module{deps: deps, ports: Ports{Runner: svc, Status: svc, Store: binder.Bind(deps.PG)}}
}

// Opener maps a source's transport settings to a concrete transport
func Opener(gcsEndpoint string) service.TransportOpener {
	return func(ctx context.Context, src sources.Impl) (transport.Transport, error) {
		t := src.Def.Transport
		switch t.Type {
		case "local":
			return local.New(t.Path), nil
		case "gcs":
			b, err := gcs.Open(ctx, gcs.Options{Bucket: t.Bucket, Prefix: t.Prefix, Endpoint: gcsEndpoint})
			if err != nil {
				return nil, err
			}
			return b, nil
		default:
			return nil, perr.InvalidArgf("source %s: unknown transport %q", src.Def.Name, t.Type)
		}
	}
}

// Name returns the module name
func (m *Module) Name() string { return "batches" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// MountRoutes is a no-op; the status API module serves batch state
func (m *Module) MountRoutes(phttp.Router) {}
