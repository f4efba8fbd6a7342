package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"extractrelay/internal/adapters/sources"
	"extractrelay/internal/modkit/repokit"
	perr "extractrelay/internal/platform/errors"
	"extractrelay/internal/platform/store"
	kit "extractrelay/internal/platform/testkit"
	batchdom "extractrelay/internal/services/batches/domain"
	"extractrelay/internal/services/delivery/domain"
)

type memDB struct{}

func (memDB) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (memDB) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, errors.New("memDB: no queries")
}
func (memDB) QueryRow(context.Context, string, ...any) store.Row            { return nil }
func (m memDB) Tx(_ context.Context, fn func(store.RowQuerier) error) error { return fn(m) }

type memSplits struct {
	mu       sync.Mutex
	splits   map[int64]*batchdom.BatchSplit
	attempts []batchdom.DeliveryAttempt
	complete bool
}

func newMemSplits(orgs ...string) *memSplits {
	m := &memSplits{splits: map[int64]*batchdom.BatchSplit{}}
	for i, o := range orgs {
		id := int64(i + 1)
		m.splits[id] = &batchdom.BatchSplit{
			ID: id, BatchID: 1, OrganisationID: o, LocalPath: "b1/Split/" + o,
			HasPatientData: true, DeliveryState: batchdom.DeliveryReady,
		}
	}
	return m
}

func (m *memSplits) binder() repokit.Binder[domain.StorageRepo] {
	return repokit.BindFunc[domain.StorageRepo](func(repokit.Queryer) domain.StorageRepo { return m })
}

func (m *memSplits) Splits(_ context.Context, _ int64) ([]batchdom.BatchSplit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []batchdom.BatchSplit
	for i := int64(1); i <= int64(len(m.splits)); i++ {
		out = append(out, *m.splits[i])
	}
	return out, nil
}

func (m *memSplits) SetState(_ context.Context, id int64, st batchdom.DeliveryState, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp := m.splits[id]
	if sp.DeliveryState == batchdom.DeliveryAcknowledged {
		return nil
	}
	sp.DeliveryState, sp.LastError = st, lastErr
	if st == batchdom.DeliverySent {
		sp.Attempts++
	}
	return nil
}

func (m *memSplits) Acknowledge(_ context.Context, id int64, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp := m.splits[id]
	sp.DeliveryState, sp.LastError, sp.Notified, sp.NotifiedAt = batchdom.DeliveryAcknowledged, "", true, &t
	return nil
}

func (m *memSplits) RecordAttempt(_ context.Context, a batchdom.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memSplits) CompleteBatch(context.Context, int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sp := range m.splits {
		if sp.DeliveryState != batchdom.DeliveryAcknowledged {
			return false, nil
		}
	}
	if m.complete {
		return false, nil
	}
	m.complete = true
	return true, nil
}

// fakeEnd is both sink and gate; fail and deny are keyed by organisation
type fakeEnd struct {
	mu      sync.Mutex
	sent    map[string]int
	msgs    []domain.Message
	fail    map[string]bool
	deny    map[string]bool
	gateErr error
}

func (f *fakeEnd) Send(_ context.Context, m domain.Message) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[m.Org]++
	f.msgs = append(f.msgs, m)
	if f.fail[m.Org] {
		return domain.Receipt{Status: 500, Detail: "HTTP/1.1 500 Internal Server Error\nboom"}, perr.New(perr.ErrorCodeDelivery, "consumer answered 500")
	}
	return domain.Receipt{Status: 200}, nil
}

func (f *fakeEnd) HasAgreement(_ context.Context, org string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gateErr != nil {
		return false, f.gateErr
	}
	return !f.deny[org], nil
}

func setup(t *testing.T, orgs ...string) (*Service, *memSplits, *fakeEnd, sources.Impl) {
	t.Helper()
	repo := newMemSplits(orgs...)
	end := &fakeEnd{sent: map[string]int{}, fail: map[string]bool{}, deny: map[string]bool{}}
	connect := func(sources.Definition) (domain.Sink, domain.Gate, error) { return end, end, nil }
	svc := New(memDB{}, repo.binder(), connect, Config{PermRoot: "/perm"})
	src := sources.Impl{Def: sources.Definition{Name: "acme", Delivery: sources.DeliveryDef{Workers: 2}}}
	return svc, repo, end, src
}

func TestDeliverBatch_AllAcknowledgedCompletes(t *testing.T) {
	svc, repo, end, src := setup(t, "A", "B", "C")
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := batchdom.Batch{ID: 1, ExtractDate: &date}

	tally, err := svc.DeliverBatch(context.Background(), src, b)
	if err != nil {
		t.Fatal(err)
	}
	if tally.OK != 3 || !tally.Completed {
		t.Fatalf("tally = %+v", tally)
	}
	if len(end.msgs) != 3 || end.msgs[0].Dir == "" || end.msgs[0].ExtractDate == nil {
		t.Fatalf("messages = %+v", end.msgs)
	}
	for _, sp := range repo.splits {
		if !sp.Notified || sp.NotifiedAt == nil || sp.Attempts != 1 {
			t.Fatalf("split = %+v", sp)
		}
	}

	// acknowledged splits are never sent again
	tally, err = svc.DeliverBatch(context.Background(), src, b)
	if err != nil || tally.Skipped != 3 || tally.OK != 0 {
		t.Fatalf("rerun tally = %+v err = %v", tally, err)
	}
	for org, n := range end.sent {
		if n != 1 {
			t.Fatalf("%s sent %d times", org, n)
		}
	}
}

func TestDeliverBatch_FailureIsolatedAndRetried(t *testing.T) {
	svc, repo, end, src := setup(t, "A", "B")
	end.fail["B"] = true
	b := batchdom.Batch{ID: 1}

	tally, err := svc.DeliverBatch(context.Background(), src, b)
	if err != nil {
		t.Fatal(err)
	}
	if tally.OK != 1 || tally.Failed != 1 || tally.Completed {
		t.Fatalf("tally = %+v", tally)
	}
	sp := repo.splits[2]
	if sp.DeliveryState != batchdom.DeliveryFailed {
		t.Fatalf("state = %s", sp.DeliveryState)
	}
	kit.MustContain(t, sp.LastError, "boom")
	var failed *batchdom.DeliveryAttempt
	for i := range repo.attempts {
		if repo.attempts[i].SplitID == 2 {
			failed = &repo.attempts[i]
		}
	}
	if failed == nil || failed.HTTPStatus != 500 || failed.Outcome != domain.OutcomeFailed {
		t.Fatalf("attempt = %+v", failed)
	}

	end.fail["B"] = false
	tally, _ = svc.DeliverBatch(context.Background(), src, b)
	if tally.OK != 1 || tally.Skipped != 1 || !tally.Completed {
		t.Fatalf("retry tally = %+v", tally)
	}
	if end.sent["A"] != 1 || end.sent["B"] != 2 {
		t.Fatalf("sent = %v", end.sent)
	}
}

func TestDeliverBatch_NoAgreementHolds(t *testing.T) {
	svc, repo, end, src := setup(t, "A")
	end.deny["A"] = true
	b := batchdom.Batch{ID: 1}

	tally, err := svc.DeliverBatch(context.Background(), src, b)
	if err != nil || tally.Gated != 1 || tally.Completed {
		t.Fatalf("tally = %+v err = %v", tally, err)
	}
	if repo.splits[1].DeliveryState != batchdom.DeliveryGated || end.sent["A"] != 0 {
		t.Fatal("gated split was sent")
	}

	end.deny["A"] = false
	if tally, _ = svc.DeliverBatch(context.Background(), src, b); tally.OK != 1 {
		t.Fatalf("tally after agreement = %+v", tally)
	}
}

func TestDeliverBatch_GateErrorIsTransient(t *testing.T) {
	svc, repo, end, src := setup(t, "A")
	end.gateErr = perr.New(perr.ErrorCodeUnavailable, "agreement check: status 500")

	tally, err := svc.DeliverBatch(context.Background(), src, batchdom.Batch{ID: 1})
	if err != nil || tally.Failed != 1 {
		t.Fatalf("tally = %+v err = %v", tally, err)
	}
	if repo.splits[1].DeliveryState != batchdom.DeliveryFailed || repo.attempts[0].Outcome != domain.OutcomeGateError {
		t.Fatalf("split = %+v attempts = %+v", repo.splits[1], repo.attempts)
	}
}

func TestDeliverSplit_BulkHeaderNeedsKnownClassification(t *testing.T) {
	svc, _, end, src := setup(t)
	sp := batchdom.BatchSplit{ID: 9, OrganisationID: "A", IsBulk: true}
	repo := newMemSplits("A")
	repo.splits[9] = &sp
	svc.Binder = repo.binder()
	if _, err := svc.DeliverSplit(context.Background(), src, batchdom.Batch{}, sp, end, nil); err != nil {
		t.Fatal(err)
	}
	if end.msgs[0].IsBulk {
		t.Fatal("unknown classification sent as bulk")
	}
}

func TestNew_PanicsOnNilDeps(t *testing.T) {
	connect := func(sources.Definition) (domain.Sink, domain.Gate, error) { return nil, nil, nil }
	kit.MustPanic(t, func() { New(nil, newMemSplits().binder(), connect, Config{}) })
	kit.MustPanic(t, func() { New(memDB{}, nil, connect, Config{}) })
	kit.MustPanic(t, func() { New(memDB{}, newMemSplits().binder(), nil, Config{}) })
}
