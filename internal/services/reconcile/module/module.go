// Package module provides the reconciliation module
package module

import (
	"context"

	"extractrelay/internal/modkit"
	phttp "extractrelay/internal/platform/net/http"
	batchdom "extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/reconcile/domain"
	"extractrelay/internal/services/reconcile/repo"
	"extractrelay/internal/services/reconcile/service"
)

// GapRunner runs delete synthesis for one organisation
type GapRunner interface {
	Gap(ctx context.Context, req service.GapRequest) (service.GapResult, error)
}

// Ports defines the reconcile module ports
type Ports struct {
	// Reconciler filters prepared splits for the batch pipeline
	Reconciler batchdom.Reconciler
	Gap        GapRunner
	Store      domain.StorageRepo
}

// Module implements the reconcile module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the reconcile module
func New(deps modkit.Deps) *Module {
	deps = deps.Named("reconcile")
	binder := repo.NewPG()
	svc := service.New(deps.PG, binder, service.Config{
		PermRoot: deps.Cfg.Prefix("CORE_STORAGE_").MayString("PERM_ROOT", "/var/lib/extractrelay/perm"),
	})
	return &Module{deps: deps, ports: Ports{Reconciler: svc, Gap: svc, Store: binder.Bind(deps.PG)}}
}

// Name returns the module name
func (m *Module) Name() string { return "reconcile" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// MountRoutes is a no-op
func (m *Module) MountRoutes(phttp.Router) {}
