package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"extractrelay/internal/adapters/sources"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/logger"
	"extractrelay/internal/platform/store"
	"extractrelay/internal/services/batches/domain"
)

// CheckStructure validates a batch's file set against its source.
// Deleted and not needed files take no part
func CheckStructure(src sources.Impl, files []domain.BatchFile) error {
	required := src.Adapter.RequiredFileTypes()
	allowed := map[string]bool{}
	for _, t := range required {
		allowed[t] = true
	}
	for _, t := range src.Def.OptionalTypes {
		allowed[t] = true
	}

	type slot struct{ org, typ string }
	count := map[slot]int{}
	present := map[string]bool{}
	var live []domain.BatchFile
	for _, f := range files {
		if f.Deleted || !f.Needed {
			continue
		}
		live = append(live, f)
		present[f.FileType] = true
		count[slot{org: f.Org, typ: f.FileType}]++
	}

	if len(live) == 0 {
		return perr.Newf(perr.ErrorCodeValidation, "wrong file count: batch has no files, expected %d", len(required))
	}
	slots := make([]slot, 0, len(count))
	for k := range count {
		slots = append(slots, k)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].typ != slots[j].typ {
			return slots[i].typ < slots[j].typ
		}
		return slots[i].org < slots[j].org
	})
	for _, k := range slots {
		if n := count[k]; n > 1 {
			return perr.WithField(perr.Newf(perr.ErrorCodeValidation,
				"wrong file count: %d files of type %s, expected 1", n, k.typ), k.typ)
		}
	}

	types := make([]string, 0, len(present))
	for t := range present {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if len(allowed) > 0 && !allowed[t] {
			return perr.WithField(perr.Newf(perr.ErrorCodeValidation, "unexpected file type %s", t), t)
		}
	}
	if !src.Def.AllowPartial {
		for _, t := range required {
			if !present[t] {
				return perr.WithField(perr.Newf(perr.ErrorCodeValidation, "missing file type %s", t), t)
			}
		}
	}
	return uniformConflict(live)
}

// SequenceResult reports one sequencing pass
type SequenceResult struct {
	Sequenced []domain.Batch
	Rejected  []domain.Batch
	Held      []domain.Batch
}

// Sequence validates every unsequenced batch of a source and assigns sequence numbers.
//
// Batches are taken in sort key order. A batch that fails its structural checks is
// rejected and everything after it waits. A sort key shared by two batches rejects both
// and aborts the cycle. A batch not strictly after the last sequenced batch is rejected
// whatever else is pending
func (s *Service) Sequence(ctx context.Context, src sources.Impl) (SequenceResult, error) {
	var res SequenceResult
	var fatal error
	name := src.Def.Name
	err := store.InKeyLock(ctx, s.DB, "sequence/"+name, func(q store.RowQuerier) error {
		res, fatal = SequenceResult{}, nil
		r := s.Binder.Bind(q)
		live, err := r.LiveBatches(ctx, name)
		if err != nil {
			return err
		}
		if len(live) == 0 {
			return nil
		}
		sort.SliceStable(live, func(i, j int) bool {
			if !live[i].SortKey.Equal(live[j].SortKey) {
				return live[i].SortKey.Before(live[j].SortKey)
			}
			return live[i].ID < live[j].ID
		})
		lastSeq, lastKey, haveLast, err := r.LastSequenced(ctx, name)
		if err != nil {
			return err
		}

		reject := func(b domain.Batch, reason string) error {
			b.State, b.RejectReason = domain.StateRejected, reason
			res.Rejected = append(res.Rejected, b)
			logger.C(logger.WithBatch(ctx, b.Identifier)).Warn().Str("reason", reason).Msg("batch rejected")
			return r.SetState(ctx, b.ID, domain.StateRejected, reason)
		}

		// duplicate extracts
		dup := map[int64]bool{}
		for i := 1; i < len(live); i++ {
			if live[i].SortKey.Equal(live[i-1].SortKey) {
				dup[live[i].ID], dup[live[i-1].ID] = true, true
			}
		}
		if len(dup) > 0 {
			var ids []string
			for _, b := range live {
				if dup[b.ID] {
					ids = append(ids, b.Identifier)
				}
			}
			reason := fmt.Sprintf("duplicate extract: batches %s share a sort key", strings.Join(ids, ", "))
			for _, b := range live {
				if dup[b.ID] {
					if err := reject(b, reason); err != nil {
						return err
					}
				}
			}
			fatal = perr.Fatalf(perr.ErrorCodeValidation, "%s: %s", name, reason)
		}

		var candidates []domain.Batch
		for _, b := range live {
			if dup[b.ID] {
				continue
			}
			if haveLast && !b.SortKey.After(lastKey) {
				reason := fmt.Sprintf("out of order: sort key %s is not after last sequenced %s",
					b.SortKey.Format(time.RFC3339), lastKey.Format(time.RFC3339))
				if err := reject(b, reason); err != nil {
					return err
				}
				continue
			}
			candidates = append(candidates, b)
		}
		if fatal != nil {
			return nil
		}

		next := lastSeq
		var blocker *domain.Batch
		for i := range candidates {
			b := candidates[i]
			if blocker != nil {
				reason := "waiting on rejected batch " + blocker.Identifier
				if b.State != domain.StateIncomplete || b.RejectReason != reason {
					if err := r.SetState(ctx, b.ID, domain.StateIncomplete, reason); err != nil {
						return err
					}
				}
				b.State, b.RejectReason = domain.StateIncomplete, reason
				res.Held = append(res.Held, b)
				continue
			}
			files, err := r.BatchFiles(ctx, b.ID)
			if err != nil {
				return err
			}
			if serr := CheckStructure(src, files); serr != nil {
				if err := reject(b, serr.Error()); err != nil {
					return err
				}
				blocker = &candidates[i]
				continue
			}
			next++
			if err := r.AssignSequence(ctx, b.ID, next); err != nil {
				return err
			}
			seq := next
			b.SequenceNumber, b.State, b.RejectReason = &seq, domain.StateSequenced, ""
			res.Sequenced = append(res.Sequenced, b)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, fatal
}
