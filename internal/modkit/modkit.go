package modkit

import (
	phttp "extractrelay/internal/platform/net/http"
)

// Module is the surface every module exposes to main
type Module interface {
	// MountRoutes mounts HTTP routes; modules without routes make it a no-op
	MountRoutes(r phttp.Router)
	// Ports returns the module specific port set for cross wiring
	Ports() any
	Name() string
}

// Mount mounts every module onto r in order
func Mount(r phttp.Router, mods ...Module) {
	for _, m := range mods {
		m.MountRoutes(r)
	}
}
