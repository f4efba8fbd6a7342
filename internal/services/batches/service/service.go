// Package service runs the per source batch lifecycle: download, assemble,
// sequence, split and hand off to reconciliation and delivery
package service

import (
	"context"
	"math/rand"
	"time"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/adapters/transport"
	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/batches/guardrails"
	"extractrelay/internal/services/batches/storage"
)

// TransportOpener returns the remote drop location for a source
type TransportOpener func(ctx context.Context, src sources.Impl) (transport.Transport, error)

// Config holds configuration options for the batch service
type Config struct {
	Layout   storage.Layout
	Timeouts guardrails.Timeouts

	// DownloadRetries is attempts per remote file within a cycle; <=0 -> 1
	DownloadRetries int
	// RetryBase is the base backoff between download attempts; <=0 -> 500ms
	RetryBase time.Duration
}

// Service implements domain.RunnerPort and domain.StatusPort
type Service struct {
	DB       repokit.TxRunner
	Binder   repokit.Binder[domain.StorageRepo]
	Registry *sources.Registry
	Open     TransportOpener
	Cfg      Config

	// Optional stages; nil skips them
	Reconcile domain.Reconciler
	Deliver   domain.Deliverer

	// Lease(ctx, source, do) keeps two processes off the same source's cycle
	Lease guardrails.Lease

	now func() time.Time
}

// New constructs the batch service
func New(
	db repokit.TxRunner,
	binder repokit.Binder[domain.StorageRepo],
	reg *sources.Registry,
	open TransportOpener,
	cfg Config,
	lease guardrails.Lease,
) *Service {
	if db == nil {
		panic("batches.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("batches.Service requires a non nil Repo binder")
	}
	if reg == nil {
		panic("batches.Service requires a source registry")
	}
	if lease == nil {
		lease = guardrails.NoLease
	}
	return &Service{
		DB: db, Binder: binder, Registry: reg, Open: open,
		Cfg: cfg, Lease: lease,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithReconciler wires the reconciliation stage
func (s *Service) WithReconciler(r domain.Reconciler) *Service {
	s.Reconcile = r
	return s
}

// WithDeliverer wires the delivery stage
func (s *Service) WithDeliverer(d domain.Deliverer) *Service {
	s.Deliver = d
	return s
}

func (s *Service) repo() domain.StorageRepo { return s.Binder.Bind(s.DB) }

func (s *Service) source(name string) (sources.Impl, error) {
	impl, ok := s.Registry.Get(name)
	if !ok {
		return impl, perr.NotFoundf("source %q is not configured", name)
	}
	return impl, nil
}

// sleepCtx sleeps d or returns early with ctx error
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff is base*2^attempt with up to 50% jitter
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := base << attempt
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
