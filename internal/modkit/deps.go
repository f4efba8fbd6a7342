// Package modkit holds the wiring shared by every module: core deps and the module surface
package modkit

import (
	"extractrelay/internal/modkit/repokit"
	"extractrelay/internal/platform/config"
	"extractrelay/internal/platform/logger"
)

// Deps holds core dependencies passed to modules
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	PG  repokit.TxRunner
}

// Named returns a copy of deps whose logger carries component
func (d Deps) Named(component string) Deps {
	d.Log = d.Log.With().Str("component", component).Logger()
	return d
}
