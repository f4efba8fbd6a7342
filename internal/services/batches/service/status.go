package service

import (
	"context"
	"strings"

	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/services/batches/domain"
)

// Resolution actions accepted by Resolve
const (
	ActionSupersede  = "supersede"
	ActionRevalidate = "revalidate"
)

// Sources lists configured source names
func (s *Service) Sources() []string { return s.Registry.Names() }

// LastAttempt returns the newest polling attempt of a source, nil when it never ran
func (s *Service) LastAttempt(ctx context.Context, source string) (*domain.PollingAttempt, error) {
	xs, err := s.RecentAttempts(ctx, source, 1)
	if err != nil || len(xs) == 0 {
		return nil, err
	}
	return &xs[0], nil
}

// RecentAttempts lists a source's polling attempts, newest first
func (s *Service) RecentAttempts(ctx context.Context, source string, limit int) ([]domain.PollingAttempt, error) {
	if _, err := s.source(source); err != nil {
		return nil, err
	}
	return s.repo().RecentAttempts(ctx, source, clampLimit(limit))
}

// RecentBatches lists a source's batches, newest first, with their files
func (s *Service) RecentBatches(ctx context.Context, source string, limit int) ([]domain.Batch, error) {
	if _, err := s.source(source); err != nil {
		return nil, err
	}
	r := s.repo()
	bs, err := r.RecentBatches(ctx, source, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	for i := range bs {
		if bs[i].Files, err = r.BatchFiles(ctx, bs[i].ID); err != nil {
			return nil, err
		}
	}
	return bs, nil
}

// Resolve applies a manual decision to a held batch. Supersede takes it out of
// sequencing for good; revalidate clears the rejection and sequences again
func (s *Service) Resolve(ctx context.Context, source string, batchID int64, action, reason string) (domain.Batch, error) {
	src, err := s.source(source)
	if err != nil {
		return domain.Batch{}, err
	}
	r := s.repo()
	b, err := r.GetBatch(ctx, source, batchID)
	if err != nil {
		return b, err
	}
	if !b.State.Live() {
		return b, perr.Conflictf("batch %d is %s; only incomplete or rejected batches can be resolved", batchID, b.State)
	}

	switch strings.ToLower(action) {
	case ActionSupersede:
		if reason == "" {
			reason = "superseded by operator"
		}
		if err := r.SetState(ctx, b.ID, domain.StateSuperseded, reason); err != nil {
			return b, err
		}
	case ActionRevalidate:
		if err := r.SetState(ctx, b.ID, domain.StateIncomplete, ""); err != nil {
			return b, err
		}
		if _, err := s.Sequence(ctx, src); err != nil && perr.IsFatal(err) {
			return b, err
		}
	default:
		return b, perr.WithField(perr.InvalidArgf("unknown action %q", action), "action")
	}
	return r.GetBatch(ctx, source, batchID)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 20
	case n > 500:
		return 500
	default:
		return n
	}
}
