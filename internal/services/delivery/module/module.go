// Package module provides the delivery module
package module

import (
	"extractrelay/internal/adapters/delivery/httpsink"
	"extractrelay/internal/modkit"
	phttp "extractrelay/internal/platform/net/http"
	batchdom "extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/delivery/domain"
	"extractrelay/internal/services/delivery/repo"
	"extractrelay/internal/services/delivery/service"
)

// Ports defines the delivery module ports
type Ports struct {
	Deliverer batchdom.Deliverer
}

// Module implements the delivery module
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs the delivery module. A nil connect uses the HTTP sink
func New(deps modkit.Deps, connect domain.Connector) *Module {
	deps = deps.Named("delivery")
	if connect == nil {
		connect = httpsink.Connect
	}
	svc := service.New(deps.PG, repo.NewPG(), connect, service.Config{
		PermRoot: deps.Cfg.Prefix("CORE_STORAGE_").MayString("PERM_ROOT", "/var/lib/extractrelay/perm"),
	})
	return &Module{deps: deps, ports: Ports{Deliverer: svc}}
}

// Name returns the module name
func (m *Module) Name() string { return "delivery" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// MountRoutes is a no-op
func (m *Module) MountRoutes(phttp.Router) {}
