package service

import (
	"context"
	"errors"
	"sync"

	"extractrelay/internal/modkit/repokit"
	"extractrelay/internal/platform/store"
	"extractrelay/internal/services/reconcile/domain"
)

type memDB struct{}

func (memDB) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (memDB) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, errors.New("memDB: no queries")
}
func (memDB) QueryRow(context.Context, string, ...any) store.Row { return nil }
func (m memDB) Tx(_ context.Context, fn func(store.RowQuerier) error) error {
	return fn(m)
}

// memIndex mirrors the postgres upsert rules of the content index
type memIndex struct {
	mu        sync.Mutex
	entries   map[domain.Key]map[string]domain.Entry
	history   []domain.SplitRef
	fileTypes map[int64]map[string]string
	runs      []domain.GapRun
	lookupErr error
}

func newMemIndex() *memIndex {
	return &memIndex{entries: map[domain.Key]map[string]domain.Entry{}, fileTypes: map[int64]map[string]string{}}
}

func (m *memIndex) binder() repokit.Binder[domain.StorageRepo] {
	return repokit.BindFunc[domain.StorageRepo](func(repokit.Queryer) domain.StorageRepo { return m })
}

func (m *memIndex) Lookup(_ context.Context, key domain.Key, ids []string) (map[string]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	out := map[string]domain.Entry{}
	for _, id := range ids {
		if e, ok := m.entries[key][id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (m *memIndex) Upsert(_ context.Context, key domain.Key, entries []domain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[key] == nil {
		m.entries[key] = map[string]domain.Entry{}
	}
	for _, e := range entries {
		old, ok := m.entries[key][e.RowID]
		if ok {
			if old.Hash == e.Hash {
				e.BatchID = old.BatchID
			}
			if old.LastUpdated.After(e.LastUpdated) {
				e.LastUpdated = old.LastUpdated
			}
		}
		m.entries[key][e.RowID] = e
	}
	return nil
}

func (m *memIndex) History(_ context.Context, _, _ string) ([]domain.SplitRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SplitRef(nil), m.history...), nil
}

func (m *memIndex) FileTypes(_ context.Context, batchID int64) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileTypes[batchID], nil
}

func (m *memIndex) Orgs(context.Context, string) ([]string, error) { return []string{"ORG1"}, nil }

func (m *memIndex) RecordGapRun(_ context.Context, g domain.GapRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.Source == g.Source && r.Org == g.Org && r.FileType == g.FileType && r.DisableBatchID == g.DisableBatchID {
			m.runs[i] = g
			return nil
		}
	}
	m.runs = append(m.runs, g)
	return nil
}
