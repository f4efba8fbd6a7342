// Package service drives each split of a batch through the delivery state machine
package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	batchdom "extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/delivery/domain"
)

// Config holds configuration options for delivery
type Config struct {
	// PermRoot is the committed storage root split folders live under
	PermRoot string
}

// Service implements batches domain.Deliverer
type Service struct {
	DB      repokit.TxRunner
	Binder  repokit.Binder[domain.StorageRepo]
	Connect domain.Connector
	Cfg     Config

	now func() time.Time
}

// New constructs the delivery service
func New(db repokit.TxRunner, binder repokit.Binder[domain.StorageRepo], connect domain.Connector, cfg Config) *Service {
	if db == nil {
		panic("delivery.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("delivery.Service requires a non nil Repo binder")
	}
	if connect == nil {
		panic("delivery.Service requires a non nil Connector")
	}
	return &Service{DB: db, Binder: binder, Connect: connect, Cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) repo() domain.StorageRepo { return s.Binder.Bind(s.DB) }

// DeliverBatch sends every split of b that is not yet acknowledged, at most
// Delivery.Workers at a time. A split's failure never stops its siblings.
// The batch is completed once all of its splits are acknowledged
func (s *Service) DeliverBatch(ctx context.Context, src sources.Impl, b batchdom.Batch) (batchdom.DeliveryTally, error) {
	var tally batchdom.DeliveryTally
	r := s.repo()
	splits, err := r.Splits(ctx, b.ID)
	if err != nil {
		return tally, err
	}
	sink, gate, err := s.Connect(src.Def)
	if err != nil {
		return tally, perr.Wrap(err, perr.ErrorCodeDelivery, "connect")
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, src.Def.Delivery.Workers))
	for _, sp := range splits {
		g.Go(func() error {
			t, err := s.DeliverSplit(gctx, src, b, sp, sink, gate)
			mu.Lock()
			defer mu.Unlock()
			tally.OK += t.OK
			tally.Failed += t.Failed
			tally.Gated += t.Gated
			tally.Skipped += t.Skipped
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := errors.Join(errs...); err != nil {
		return tally, err
	}

	done, err := r.CompleteBatch(ctx, b.ID)
	if err != nil {
		return tally, err
	}
	tally.Completed = done
	if done {
		logger.C(ctx).Info().Int("splits", len(splits)).Msg("delivery: batch complete")
	}
	return tally, nil
}

// DeliverSplit moves one split from ready through the agreement gate to acknowledged or failed.
// Acknowledged splits are never sent again. The returned error is reserved for
// storage failures; gate and send failures are recorded on the split
func (s *Service) DeliverSplit(ctx context.Context, src sources.Impl, b batchdom.Batch, sp batchdom.BatchSplit, sink domain.Sink, gate domain.Gate) (batchdom.DeliveryTally, error) {
	var t batchdom.DeliveryTally
	if sp.DeliveryState == batchdom.DeliveryAcknowledged {
		t.Skipped++
		return t, nil
	}
	ctx = logger.WithOrg(ctx, sp.OrganisationID)
	log := logger.C(ctx)
	r := s.repo()

	if gate != nil {
		ok, err := gate.HasAgreement(ctx, sp.OrganisationID)
		if err != nil {
			t.Failed++
			log.Warn().Err(err).Msg("delivery: agreement check failed")
			return t, s.record(ctx, r, sp.ID, batchdom.DeliveryFailed, domain.OutcomeGateError, 0, err.Error())
		}
		if !ok {
			t.Gated++
			log.Info().Msg("delivery: no agreement, holding split")
			return t, s.record(ctx, r, sp.ID, batchdom.DeliveryGated, domain.OutcomeGated, 0, "")
		}
	}

	if err := r.SetState(ctx, sp.ID, batchdom.DeliverySent, ""); err != nil {
		return t, err
	}
	rc, err := sink.Send(ctx, domain.Message{
		SplitID:        sp.ID,
		Org:            sp.OrganisationID,
		Dir:            filepath.Join(s.Cfg.PermRoot, src.Def.Name, sp.LocalPath),
		IsBulk:         sp.IsBulk && sp.BulkKnown,
		HasPatientData: sp.HasPatientData,
		TotalBytes:     sp.TotalBytes,
		ExtractDate:    b.ExtractDate,
		ExtractCutoff:  b.ExtractCutoff,
	})
	if err != nil {
		t.Failed++
		detail := rc.Detail
		if detail == "" {
			detail = err.Error()
		}
		log.Warn().Err(err).Int("status", rc.Status).Msg("delivery: send failed")
		return t, s.record(ctx, r, sp.ID, batchdom.DeliveryFailed, domain.OutcomeFailed, rc.Status, detail)
	}

	at := s.now()
	if err := r.Acknowledge(ctx, sp.ID, at); err != nil {
		return t, err
	}
	t.OK++
	log.Debug().Int64("bytes", sp.TotalBytes).Msg("delivery: acknowledged")
	return t, r.RecordAttempt(ctx, batchdom.DeliveryAttempt{
		SplitID: sp.ID, AttemptedAt: at, Outcome: domain.OutcomeAcknowledged, HTTPStatus: rc.Status,
	})
}

func (s *Service) record(ctx context.Context, r domain.StorageRepo, splitID int64, state batchdom.DeliveryState, outcome string, status int, detail string) error {
	if err := r.SetState(ctx, splitID, state, detail); err != nil {
		return err
	}
	return r.RecordAttempt(ctx, batchdom.DeliveryAttempt{
		SplitID: splitID, AttemptedAt: s.now(), Outcome: outcome, HTTPStatus: status, Detail: detail,
	})
}
