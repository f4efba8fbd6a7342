// Package http is the thin http layer: a chi-backed router seam, a server with
// graceful shutdown and JSON envelope helpers
package http

import "net/http"

// Handler is the handler signature mounted on a Router
type Handler = func(http.ResponseWriter, *http.Request)

// Router is the mounting surface handed to modules
type Router interface {
	Get(path string, h Handler)
	Post(path string, h Handler)
	Handle(path string, h http.Handler)
	Use(mw ...func(http.Handler) http.Handler)
	Group(fn func(Router))
	Route(pattern string, fn func(Router))
	Mux() http.Handler
}
