// Package http provides the status API transport over the batch lifecycle
package http

import (
	stdhttp "net/http"
	"strconv"

	perr "extractrelay/internal/platform/errors"
	phttp "extractrelay/internal/platform/net/http"
	"extractrelay/internal/platform/net/http/bind"
	"extractrelay/internal/services/batches/domain"
)

// ResolveInput is the body of a manual resolution
type ResolveInput struct {
	Action string `json:"action" validate:"required,oneof=supersede revalidate"`
	Reason string `json:"reason" validate:"max=500"`
}

// SourceView is one configured source with its most recent attempt
type SourceView struct {
	Name        string                 `json:"name"`
	LastAttempt *domain.PollingAttempt `json:"last_attempt,omitempty"`
}

// Register mounts the status endpoints on r
func Register(r phttp.Router, s domain.StatusPort) {
	h := &handlers{svc: s}
	r.Get("/sources", h.sources)
	r.Get("/sources/{source}/batches", h.batches)
	r.Get("/sources/{source}/attempts", h.attempts)
	r.Post("/sources/{source}/batches/{id}/resolve", h.resolve)
}

type handlers struct{ svc domain.StatusPort }

func (h *handlers) sources(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	names := h.svc.Sources()
	out := make([]SourceView, 0, len(names))
	for _, n := range names {
		last, err := h.svc.LastAttempt(r.Context(), n)
		if err != nil {
			phttp.RespondError(w, r, err)
			return
		}
		out = append(out, SourceView{Name: n, LastAttempt: last})
	}
	phttp.RespondList(w, r, out, len(out), len(out))
}

func (h *handlers) batches(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	limit := queryLimit(r)
	bs, err := h.svc.RecentBatches(r.Context(), phttp.URLParam(r, "source"), limit)
	if err != nil {
		phttp.RespondError(w, r, err)
		return
	}
	phttp.RespondList(w, r, bs, len(bs), limit)
}

func (h *handlers) attempts(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	limit := queryLimit(r)
	as, err := h.svc.RecentAttempts(r.Context(), phttp.URLParam(r, "source"), limit)
	if err != nil {
		phttp.RespondError(w, r, err)
		return
	}
	phttp.RespondList(w, r, as, len(as), limit)
}

func (h *handlers) resolve(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	id, err := strconv.ParseInt(phttp.URLParam(r, "id"), 10, 64)
	if err != nil {
		phttp.RespondError(w, r, perr.WithField(perr.InvalidArgf("batch id must be an integer"), "id"))
		return
	}
	in, err := bind.ParseJSON[ResolveInput](r)
	if err != nil {
		phttp.RespondError(w, r, err)
		return
	}
	b, err := h.svc.Resolve(r.Context(), phttp.URLParam(r, "source"), id, in.Action, in.Reason)
	if err != nil {
		phttp.RespondError(w, r, err)
		return
	}
	phttp.RespondOK(w, r, b)
}

// queryLimit reads ?limit=; the service clamps it
func queryLimit(r *stdhttp.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}
