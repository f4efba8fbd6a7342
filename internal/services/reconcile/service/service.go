// Package service implements content-hash filtering and gap delete synthesis
package service

import (
	"time"

	"extractrelay/internal/modkit/repokit"
	"extractrelay/internal/services/reconcile/domain"
)

// Config holds configuration options for reconciliation
type Config struct {
	// PermRoot is the committed storage root batches are split under
	PermRoot string
}

// Service implements batches domain.Reconciler and the offline gap run
type Service struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[domain.StorageRepo]
	Cfg    Config

	now func() time.Time
}

// New constructs the reconcile service
func New(db repokit.TxRunner, binder repokit.Binder[domain.StorageRepo], cfg Config) *Service {
	if db == nil {
		panic("reconcile.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("reconcile.Service requires a non nil Repo binder")
	}
	return &Service{DB: db, Binder: binder, Cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) repo() domain.StorageRepo { return s.Binder.Bind(s.DB) }
