// Package module wires the status API onto the batch lifecycle's status port
package module

import (
	"extractrelay/internal/modkit"
	phttp "extractrelay/internal/platform/net/http"
	pstrings "extractrelay/internal/platform/strings"
	statushttp "extractrelay/internal/services/api/status/http"
	"extractrelay/internal/services/batches/domain"
)

// Module implements the status API module
type Module struct {
	deps   modkit.Deps
	prefix string
	svc    domain.StatusPort
}

// New constructs the status module mounted under prefix
func New(deps modkit.Deps, prefix string, svc domain.StatusPort) *Module {
	return &Module{deps: deps.Named("status"), prefix: pstrings.MustPrefix(prefix), svc: svc}
}

// MountRoutes mounts the module routes under its prefix
func (m *Module) MountRoutes(r phttp.Router) {
	r.Route(m.prefix, func(rr phttp.Router) { statushttp.Register(rr, m.svc) })
}

// Name returns the module name
func (m *Module) Name() string { return "status" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.svc }
