package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/store"
	"extractrelay/internal/services/batches/domain"
)

// memDB is a TxRunner whose statements go nowhere; the bound repo is memRepo
type memDB struct{}

func (memDB) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (memDB) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, errors.New("memDB: no queries")
}
func (memDB) QueryRow(context.Context, string, ...any) store.Row { return nil }
func (m memDB) Tx(_ context.Context, fn func(store.RowQuerier) error) error {
	return fn(m)
}

type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	batches  map[int64]*domain.Batch
	files    map[int64][]domain.BatchFile
	splits   map[int64][]domain.BatchSplit
	attempts []domain.PollingAttempt
}

func newMemRepo() *memRepo {
	return &memRepo{
		batches: map[int64]*domain.Batch{},
		files:   map[int64][]domain.BatchFile{},
		splits:  map[int64][]domain.BatchSplit{},
	}
}

func (m *memRepo) binder() repokit.Binder[domain.StorageRepo] {
	return repokit.BindFunc[domain.StorageRepo](func(repokit.Queryer) domain.StorageRepo { return m })
}

func (m *memRepo) KnownFiles(_ context.Context, source string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for id, b := range m.batches {
		if b.Source != source {
			continue
		}
		for _, f := range m.files[id] {
			out[f.Filename] = out[f.Filename] || f.Downloaded
		}
	}
	return out, nil
}

func (m *memRepo) EnsureBatch(_ context.Context, source, identifier string, sortKey time.Time) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.Source == source && b.Identifier == identifier && b.State != domain.StateSuperseded {
			return *b, nil
		}
	}
	m.nextID++
	b := &domain.Batch{ID: m.nextID, Source: source, Identifier: identifier, SortKey: sortKey, State: domain.StateIncomplete, InsertedAt: time.Now()}
	m.batches[b.ID] = b
	return *b, nil
}

func (m *memRepo) UpsertFile(_ context.Context, batchID int64, f domain.BatchFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.files[batchID] {
		if x.Filename == f.Filename {
			m.files[batchID][i] = f
			return nil
		}
	}
	m.files[batchID] = append(m.files[batchID], f)
	return nil
}

func (m *memRepo) BatchFiles(_ context.Context, batchID int64) ([]domain.BatchFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.BatchFile(nil), m.files[batchID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

func (m *memRepo) list(source string, keep func(*domain.Batch) bool) []domain.Batch {
	var out []domain.Batch
	for _, b := range m.batches {
		if b.Source == source && keep(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SortKey.Equal(out[j].SortKey) {
			return out[i].SortKey.Before(out[j].SortKey)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memRepo) LiveBatches(_ context.Context, source string) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(source, func(b *domain.Batch) bool { return b.State.Live() }), nil
}

func (m *memRepo) LastSequenced(_ context.Context, source string) (int64, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq int64
	var key time.Time
	found := false
	for _, b := range m.batches {
		if b.Source != source || !b.State.Sequenced() {
			continue
		}
		found = true
		if b.SequenceNumber != nil && *b.SequenceNumber > seq {
			seq = *b.SequenceNumber
		}
		if b.SortKey.After(key) {
			key = b.SortKey
		}
	}
	return seq, key, found, nil
}

func (m *memRepo) SetState(_ context.Context, batchID int64, state domain.BatchState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return perr.NotFoundf("batch %d", batchID)
	}
	b.State, b.RejectReason = state, reason
	if state == domain.StateComplete {
		now := time.Now()
		b.CompletedAt = &now
	}
	return nil
}

func (m *memRepo) AssignSequence(_ context.Context, batchID, seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.batches[batchID]
	if b.SequenceNumber != nil {
		return perr.Conflictf("batch %d already sequenced", batchID)
	}
	for _, o := range m.batches {
		if o.Source == b.Source && o.SequenceNumber != nil && *o.SequenceNumber == seq {
			return perr.Newf(perr.ErrorCodeDuplicateKey, "sequence %d taken", seq)
		}
	}
	b.SequenceNumber, b.State, b.RejectReason = &seq, domain.StateSequenced, ""
	return nil
}

func (m *memRepo) BatchesInState(_ context.Context, source string, state domain.BatchState) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(source, func(b *domain.Batch) bool { return b.State == state }), nil
}

func (m *memRepo) SetDates(_ context.Context, batchID int64, extractDate, cutoff *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.batches[batchID]
	b.ExtractDate, b.ExtractCutoff = extractDate, cutoff
	return nil
}

func (m *memRepo) GetBatch(_ context.Context, source string, batchID int64) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok || b.Source != source {
		return domain.Batch{}, perr.NotFoundf("batch %d not found for %s", batchID, source)
	}
	return *b, nil
}

func (m *memRepo) UpsertSplit(_ context.Context, s domain.BatchSplit) (domain.BatchSplit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.splits[s.BatchID] {
		if x.OrganisationID == s.OrganisationID {
			m.splits[s.BatchID][i].LocalPath = s.LocalPath
			return m.splits[s.BatchID][i], nil
		}
	}
	m.nextID++
	s.ID = m.nextID
	s.DeliveryState = domain.DeliveryReady
	s.HasPatientData = true
	m.splits[s.BatchID] = append(m.splits[s.BatchID], s)
	return s, nil
}

func (m *memRepo) Splits(_ context.Context, batchID int64) ([]domain.BatchSplit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BatchSplit(nil), m.splits[batchID]...), nil
}

func (m *memRepo) split(id int64) *domain.BatchSplit {
	for b := range m.splits {
		for i := range m.splits[b] {
			if m.splits[b][i].ID == id {
				return &m.splits[b][i]
			}
		}
	}
	return nil
}

func (m *memRepo) SetClassified(_ context.Context, splitID int64, a domain.Annotations) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.split(splitID)
	s.IsBulk, s.BulkKnown, s.HasPatientData, s.Classified = a.IsBulk, a.BulkKnown, a.HasPatientData, true
	return nil
}

func (m *memRepo) SetReconciled(_ context.Context, splitID int64, totalBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.split(splitID)
	s.TotalBytes, s.Reconciled = totalBytes, true
	return nil
}

func (m *memRepo) StartAttempt(_ context.Context, source string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, domain.PollingAttempt{Source: source, StartedAt: at})
	return nil
}

func (m *memRepo) FinishAttempt(_ context.Context, a domain.PollingAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.attempts {
		if m.attempts[i].Source == a.Source && m.attempts[i].StartedAt.Equal(a.StartedAt) {
			m.attempts[i] = a
		}
	}
	return nil
}

func (m *memRepo) RecentAttempts(_ context.Context, source string, limit int) ([]domain.PollingAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PollingAttempt
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.attempts[i].Source == source {
			out = append(out, m.attempts[i])
		}
	}
	return out, nil
}

func (m *memRepo) RecentBatches(_ context.Context, source string, limit int) ([]domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.list(source, func(*domain.Batch) bool { return true })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
