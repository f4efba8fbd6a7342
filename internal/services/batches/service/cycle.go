package service

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/adapters/transport"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	"extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/batches/guardrails"
	"extractrelay/internal/services/batches/storage"
)

// attemptLog accumulates the audit record of one cycle
type attemptLog struct {
	domain.PollingAttempt
	errs []string
}

func (a *attemptLog) note(err error) {
	if err != nil {
		a.errs = append(a.errs, err.Error())
	}
}

// RunCycle runs one poll, assemble, sequence, split and deliver pass for a source.
// The returned attempt is persisted whatever happens; the error is the first
// cycle aborting failure, if any
func (s *Service) RunCycle(ctx context.Context, name string) (domain.PollingAttempt, error) {
	src, err := s.source(name)
	if err != nil {
		return domain.PollingAttempt{Source: name}, err
	}
	ctx = logger.WithSource(ctx, name)

	var att domain.PollingAttempt
	err = s.Lease(ctx, name, func(ctx context.Context) error {
		var err error
		att, err = s.cycle(ctx, src)
		return err
	})
	if errors.Is(err, guardrails.ErrLeaseHeld) {
		logger.C(ctx).Debug().Msg("cycle skipped: lease held elsewhere")
		return domain.PollingAttempt{Source: name}, nil
	}
	return att, err
}

func (s *Service) cycle(ctx context.Context, src sources.Impl) (res domain.PollingAttempt, err error) {
	att := &attemptLog{PollingAttempt: domain.PollingAttempt{Source: src.Def.Name, StartedAt: s.now()}}
	if err := s.repo().StartAttempt(ctx, att.Source, att.StartedAt); err != nil {
		return att.PollingAttempt, err
	}

	// finish on a context that survives the cycle timeout
	defer func() {
		if r := recover(); r != nil {
			err = perr.PanicErrf("cycle panic: %v", r)
		}
		att.note(err)
		fin := s.now()
		att.FinishedAt = &fin
		att.ErrorText = strings.Join(att.errs, "; ")
		fctx := context.WithoutCancel(ctx)
		if ferr := s.repo().FinishAttempt(fctx, att.PollingAttempt); ferr != nil {
			logger.C(ctx).Error().Err(ferr).Msg("cycle: finish attempt failed")
		}
		ev := logger.C(ctx).Info()
		if att.ErrorText != "" {
			ev = logger.C(ctx).Warn().Str("errors", att.ErrorText)
		}
		ev.Int("downloaded", att.FilesDownloaded).
			Int("completed", att.BatchesCompleted).
			Int("splits_ok", att.SplitsOK).
			Int("splits_failed", att.SplitsFailed).
			Int("rows_dropped", att.RowsDropped).
			Dur("elapsed", fin.Sub(att.StartedAt)).
			Msg("cycle finished")
		res = att.PollingAttempt
	}()

	timeouts := s.Cfg.Timeouts
	if src.Def.CycleTimeout > 0 {
		timeouts.Cycle = src.Def.CycleTimeout
	}
	ctx, cancel := guardrails.WithCycle(ctx, timeouts)
	defer cancel()

	if err := s.downloadStage(ctx, src, att); err != nil {
		return att.PollingAttempt, err
	}
	seq, err := s.Sequence(ctx, src)
	for _, b := range seq.Rejected {
		att.errs = append(att.errs, "batch "+b.Identifier+" rejected: "+b.RejectReason)
	}
	if err != nil {
		if perr.IsFatal(err) {
			return att.PollingAttempt, err
		}
		att.note(err)
	}
	if err := s.splitStage(ctx, src, att); err != nil {
		return att.PollingAttempt, err
	}
	if err := s.deliverStage(ctx, src, att); err != nil {
		return att.PollingAttempt, err
	}
	return att.PollingAttempt, ctx.Err()
}

// downloadStage fetches every remote file not yet recorded and assembles them into batches
func (s *Service) downloadStage(ctx context.Context, src sources.Impl, att *attemptLog) error {
	if s.Open == nil {
		return nil
	}
	t, err := s.Open(ctx, src)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "open transport")
	}
	if c, ok := t.(interface{ Close() error }); ok {
		defer c.Close()
	}
	listed, err := t.List(ctx)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "list remote files")
	}
	known, err := s.repo().KnownFiles(ctx, src.Def.Name)
	if err != nil {
		return err
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].Name < listed[j].Name })

	pc := sources.ParseContext{Source: src.Def.Name, Now: s.now()}
	var got []DownloadedFile
	for _, rf := range listed {
		if known[rf.Name] {
			continue
		}
		p, err := src.Adapter.Parse(rf.Name, pc)
		if err != nil {
			if src.Adapter.IgnoreUnrecognised() {
				logger.C(ctx).Debug().Str("file", rf.Name).Msg("ignoring unrecognised file")
				continue
			}
			att.note(err)
			continue
		}
		df, err := s.fetchOne(ctx, src, t, rf, p)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			att.note(err)
			continue
		}
		got = append(got, df)
		att.FilesDownloaded++
	}

	res, err := s.Assemble(ctx, src, got)
	for _, e := range res.Errors {
		att.note(e)
	}
	return err
}

// fetchOne lands rf under the temp root, retrying transient failures, then promotes it
func (s *Service) fetchOne(ctx context.Context, src sources.Impl, t transport.Transport, rf transport.RemoteFile, p sources.Parsed) (DownloadedFile, error) {
	base := path.Base(rf.Name)
	tmp := filepath.Join(s.Cfg.Layout.TempBatch(src.Def.Name, p.BatchKey), base)
	dst := filepath.Join(s.Cfg.Layout.PermBatch(src.Def.Name, p.BatchKey), base)

	tries := max(s.Cfg.DownloadRetries, 1)
	var err error
	for i := 0; i < tries; i++ {
		if i > 0 {
			if serr := sleepCtx(ctx, backoff(s.Cfg.RetryBase, i-1)); serr != nil {
				return DownloadedFile{}, serr
			}
		}
		dctx, cancel := guardrails.ForDownload(ctx, s.Cfg.Timeouts)
		_, err = transport.Fetch(dctx, t, rf, tmp)
		cancel()
		if err == nil || !perr.Retryable(err) {
			break
		}
	}
	if err != nil {
		return DownloadedFile{}, perr.WithField(err, rf.Name)
	}
	if err := storage.Promote(tmp, dst); err != nil {
		return DownloadedFile{}, err
	}
	_ = storage.Promote(tmp+".meta", dst+".meta")
	return DownloadedFile{Name: rf.Name, Parsed: p, Size: rf.Size, Path: dst}, nil
}

// splitStage advances the earliest sequenced batch through splitting.
// Batches are split one per cycle so reconciliation sees them in sequence order
func (s *Service) splitStage(ctx context.Context, src sources.Impl, att *attemptLog) error {
	pending, err := s.repo().BatchesInState(ctx, src.Def.Name, domain.StateSequenced)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	out, err := s.SplitBatch(ctx, src, pending[0])
	att.RowsDropped += out.DroppedRows
	if err != nil {
		if perr.IsFatal(err) {
			return err
		}
		att.note(perr.WithOp(err, "split "+pending[0].Identifier))
	}
	return nil
}

// deliverStage hands every split batch to the deliverer in sequence order
func (s *Service) deliverStage(ctx context.Context, src sources.Impl, att *attemptLog) error {
	if s.Deliver == nil {
		return nil
	}
	ready, err := s.repo().BatchesInState(ctx, src.Def.Name, domain.StateSplit)
	if err != nil {
		return err
	}
	for _, b := range ready {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dctx, cancel := guardrails.ForDeliver(logger.WithBatch(ctx, b.Identifier), s.Cfg.Timeouts)
		tally, err := s.Deliver.DeliverBatch(dctx, src, b)
		cancel()
		att.SplitsOK += tally.OK
		att.SplitsFailed += tally.Failed
		if tally.Completed {
			att.BatchesCompleted++
		}
		if err != nil {
			if perr.IsFatal(err) {
				return err
			}
			att.note(perr.WithOp(err, "deliver "+b.Identifier))
		}
	}
	return nil
}
