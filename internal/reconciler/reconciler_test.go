package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yyri/wecube-platform/internal/cron"
	"github.com/yyri/wecube-platform/internal/domain"
	"github.com/yyri/wecube-platform/internal/testutil"
)

// mockStore holds open batches and records which were marked.
type mockStore struct {
	mu        sync.Mutex
	open      []domain.BatchExecutionJob
	closed    map[uuid.UUID]bool
	marked    []uuid.UUID
	markedAt  []time.Time
	listErr   error
	markErr   error
	lastLimit int
}

func newMockStore(open ...domain.BatchExecutionJob) *mockStore {
	return &mockStore{open: open, closed: make(map[uuid.UUID]bool)}
}

func (s *mockStore) GetIncompleteBatches(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchExecutionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}

	var result []domain.BatchExecutionJob
	for _, b := range s.open {
		if s.closed[b.ID] || !b.CreatedAt.Before(olderThan) {
			continue
		}
		result = append(result, b)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *mockStore) MarkBatchAbandoned(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.markErr != nil {
		return s.markErr
	}
	if s.closed[id] {
		return domain.ErrBatchClosed
	}
	s.closed[id] = true
	s.marked = append(s.marked, id)
	s.markedAt = append(s.markedAt, at)
	return nil
}

func (s *mockStore) close(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed[id] = true
}

func (s *mockStore) getMarked() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]uuid.UUID, len(s.marked))
	copy(result, s.marked)
	return result
}

type mockMetrics struct {
	mu        sync.Mutex
	cycles    int
	abandoned int
	errs      int
}

func (m *mockMetrics) ReconcileCompleted(abandoned int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
	m.abandoned += abandoned
	if err != nil {
		m.errs++
	}
}

func batchCreated(at time.Time) domain.BatchExecutionJob {
	return domain.BatchExecutionJob{ID: uuid.New(), CreatedAt: at}
}

func everyMinute(t *testing.T) cron.Schedule {
	t.Helper()
	sched, err := cron.NewParser().Parse("* * * * *")
	if err != nil {
		t.Fatalf("parse schedule: %v", err)
	}
	return sched
}

func newTestReconciler(t *testing.T, store Store, clock *testutil.FakeClock) *Reconciler {
	t.Helper()
	r := New(Config{Schedule: everyMinute(t), Threshold: time.Hour, BatchSize: 100}, store).
		WithLogger(testutil.Logger(t))
	r.clock = clock.Now
	return r
}

func TestReconciler_MarksStaleBatches(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := testutil.NewFakeClock(now)

	stale := batchCreated(now.Add(-2 * time.Hour))
	fresh := batchCreated(now.Add(-10 * time.Minute))
	store := newMockStore(stale, fresh)
	metrics := &mockMetrics{}

	r := newTestReconciler(t, store, clock).WithMetrics(metrics)

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 abandoned batch, got %d", n)
	}

	marked := store.getMarked()
	if len(marked) != 1 || marked[0] != stale.ID {
		t.Errorf("expected stale batch %s to be marked, got %v", stale.ID, marked)
	}
	if !store.markedAt[0].Equal(now) {
		t.Errorf("abandoned_at = %v, want %v", store.markedAt[0], now)
	}
	if metrics.cycles != 1 || metrics.abandoned != 1 || metrics.errs != 0 {
		t.Errorf("metrics: cycles=%d abandoned=%d errs=%d", metrics.cycles, metrics.abandoned, metrics.errs)
	}
}

func TestReconciler_SecondCycleFindsNothing(t *testing.T) {
	now := time.Now().UTC()
	clock := testutil.NewFakeClock(now)
	store := newMockStore(batchCreated(now.Add(-3 * time.Hour)))

	r := newTestReconciler(t, store, clock)

	if n, _ := r.RunOnce(context.Background()); n != 1 {
		t.Fatalf("first cycle: expected 1, got %d", n)
	}
	if n, _ := r.RunOnce(context.Background()); n != 0 {
		t.Errorf("second cycle: expected 0, got %d", n)
	}
}

func TestReconciler_ThresholdFollowsClock(t *testing.T) {
	now := time.Now().UTC()
	clock := testutil.NewFakeClock(now)
	b := batchCreated(now.Add(-30 * time.Minute))
	store := newMockStore(b)

	r := newTestReconciler(t, store, clock)

	if n, _ := r.RunOnce(context.Background()); n != 0 {
		t.Fatalf("batch younger than threshold should be left alone, got %d", n)
	}

	clock.Advance(31 * time.Minute)
	if n, _ := r.RunOnce(context.Background()); n != 1 {
		t.Errorf("batch past threshold should be abandoned, got %d", n)
	}
}

func TestReconciler_SkipsBatchesClosedMeanwhile(t *testing.T) {
	now := time.Now().UTC()
	clock := testutil.NewFakeClock(now)
	b := batchCreated(now.Add(-2 * time.Hour))
	store := &racingStore{mockStore: newMockStore(b)}

	r := newTestReconciler(t, store, clock)

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("closed batch should not be an error, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 abandoned, got %d", n)
	}
}

// racingStore completes each batch between listing and marking.
type racingStore struct {
	*mockStore
}

func (s *racingStore) GetIncompleteBatches(ctx context.Context, olderThan time.Time, limit int) ([]domain.BatchExecutionJob, error) {
	batches, err := s.mockStore.GetIncompleteBatches(ctx, olderThan, limit)
	for _, b := range batches {
		s.close(b.ID)
	}
	return batches, err
}

func TestReconciler_ListError(t *testing.T) {
	store := newMockStore()
	store.listErr = errors.New("connection refused")
	metrics := &mockMetrics{}

	r := newTestReconciler(t, store, testutil.NewFakeClock(time.Now())).WithMetrics(metrics)

	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected list error")
	}
	if metrics.cycles != 1 || metrics.errs != 1 {
		t.Errorf("metrics: cycles=%d errs=%d", metrics.cycles, metrics.errs)
	}
}

func TestReconciler_MarkErrorContinues(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore(batchCreated(now.Add(-2*time.Hour)), batchCreated(now.Add(-3*time.Hour)))
	store.markErr = errors.New("deadlock detected")

	r := newTestReconciler(t, store, testutil.NewFakeClock(now))

	n, err := r.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected mark error to be reported")
	}
	if n != 0 {
		t.Errorf("expected 0 abandoned, got %d", n)
	}
}

func TestReconciler_RespectsBatchSize(t *testing.T) {
	now := time.Now().UTC()
	var open []domain.BatchExecutionJob
	for i := 0; i < 5; i++ {
		open = append(open, batchCreated(now.Add(-time.Duration(i+2)*time.Hour)))
	}
	store := newMockStore(open...)

	r := New(Config{Schedule: everyMinute(t), Threshold: time.Hour, BatchSize: 2}, store).
		WithLogger(testutil.Logger(t))
	r.clock = testutil.NewFakeClock(now).Now

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 2 || store.lastLimit != 2 {
		t.Errorf("expected 2 abandoned with limit 2, got %d (limit %d)", n, store.lastLimit)
	}
}

func TestReconciler_Defaults(t *testing.T) {
	r := New(Config{Schedule: everyMinute(t)}, newMockStore())

	if r.config.Threshold != time.Hour {
		t.Errorf("Threshold default: expected 1h, got %v", r.config.Threshold)
	}
	if r.config.BatchSize != 100 {
		t.Errorf("BatchSize default: expected 100, got %d", r.config.BatchSize)
	}
}

func TestReconciler_CancelledContextStopsCycle(t *testing.T) {
	now := time.Now().UTC()
	store := newMockStore(batchCreated(now.Add(-2*time.Hour)), batchCreated(now.Add(-3*time.Hour)))

	r := newTestReconciler(t, store, testutil.NewFakeClock(now))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := r.RunOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if n != 0 || len(store.getMarked()) != 0 {
		t.Errorf("nothing should be marked after cancellation, got %d", n)
	}
}

// everyInstant fires almost immediately so Run can be observed quickly.
type everyInstant struct{}

func (everyInstant) Next(after time.Time) time.Time {
	return after.Add(5 * time.Millisecond)
}

func TestReconciler_RunSweepsUntilCancelled(t *testing.T) {
	store := newMockStore(batchCreated(time.Now().UTC().Add(-2 * time.Hour)))
	metrics := &mockMetrics{}

	r := New(Config{Schedule: everyInstant{}, Threshold: time.Hour}, store).
		WithLogger(testutil.Logger(t)).
		WithMetrics(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(store.getMarked()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Run never swept")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
