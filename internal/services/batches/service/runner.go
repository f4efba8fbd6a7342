package service

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"extractrelay/internal/platform/logger"
)

// Run drives every configured source on its own ticker until ctx ends.
// Cycles of one source never overlap; sources run independently
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range s.Registry.All() {
		name, every := src.Def.Name, src.Def.PollInterval
		g.Go(func() error {
			s.loop(ctx, name, every)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) loop(ctx context.Context, name string, every time.Duration) {
	log := logger.C(logger.WithSource(ctx, name))
	if every <= 0 {
		every = 5 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if _, err := s.RunCycle(ctx, name); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// RunOnce runs one cycle for every source concurrently and joins their errors
func (s *Service) RunOnce(ctx context.Context) error {
	all := s.Registry.All()
	errs := make([]error, len(all))
	var g errgroup.Group
	for i, src := range all {
		g.Go(func() error {
			_, errs[i] = s.RunCycle(ctx, src.Def.Name)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
