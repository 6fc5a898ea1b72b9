package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"liveclass/internal/credential"
	"liveclass/internal/lock"
	"liveclass/internal/provider"
	"liveclass/internal/session"
	"liveclass/internal/testutil"
	"liveclass/pkg/types"
)

type fixture struct {
	worker   *Worker
	sessions *session.Manager
	repo     *testutil.MemoryRepository
	provider *testutil.FakeProvider
	events   *testutil.RecordingPublisher
	locker   *lock.LocalLocker
	clock    *testutil.Clock
}

func newFixture(t *testing.T, mutate func(c *Config)) *fixture {
	t.Helper()
	repo := testutil.NewMemoryRepository()
	prov := testutil.NewFakeProvider(types.ProviderHosted)
	registry := provider.NewRegistry(prov)
	events := &testutil.RecordingPublisher{}
	clock := testutil.NewClock(testutil.BaseTime)
	locker := lock.NewLocalLocker()

	sessions := session.NewManager(repo, registry, credential.NewIssuer(registry, time.Hour), events, session.DefaultConfig(), nil).
		WithClock(clock.Now)

	config := DefaultConfig()
	config.BatchSize = 2
	if mutate != nil {
		mutate(&config)
	}

	w := NewWorker(repo, sessions, locker, config, nil).WithClock(clock.Now)
	return &fixture{worker: w, sessions: sessions, repo: repo, provider: prov, events: events, locker: locker, clock: clock}
}

func (f *fixture) seed(t *testing.T, s *types.Session) {
	t.Helper()
	if err := f.repo.CreateSession(context.Background(), s); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
}

func (f *fixture) get(t *testing.T, id string) *types.Session {
	t.Helper()
	s, err := f.repo.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession(%s) failed: %v", id, err)
	}
	return s
}

// Functional Validation Tests - Sweep Phases

func TestWorker_AdvancesDueSessions(t *testing.T) {
	f := newFixture(t, nil)
	now := testutil.BaseTime

	f.seed(t, testutil.NewSession("starting", now.Add(-time.Minute), 60, 5))
	f.seed(t, testutil.NewSession("ending", now.Add(-2*time.Hour), 60, 5))
	f.seed(t, testutil.NewSession("later", now.Add(time.Hour), 60, 5))
	f.repo.Mutate("ending", func(s *types.Session) { s.Status = types.StatusLive })

	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Advanced != 2 {
		t.Errorf("Expected 2 advanced sessions, got %d", report.Advanced)
	}

	if got := f.get(t, "starting").Status; got != types.StatusLive {
		t.Errorf("Expected starting session live, got %s", got)
	}
	if got := f.get(t, "ending").Status; got != types.StatusCompleted {
		t.Errorf("Expected ending session completed, got %s", got)
	}
	if got := f.get(t, "later").Status; got != types.StatusScheduled {
		t.Errorf("Expected later session scheduled, got %s", got)
	}
}

func TestWorker_AdvancesAcrossBatches(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.seed(t, testutil.NewSession(id, testutil.BaseTime.Add(-time.Minute), 60, 5))
	}

	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Advanced != 5 {
		t.Errorf("Expected all 5 sessions advanced with batch size 2, got %d", report.Advanced)
	}
}

func TestWorker_ExpiresSessionsIdempotently(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5))
	f.seed(t, testutil.NewSession("fresh", testutil.BaseTime.Add(-2*time.Hour), 60, 5))

	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Expired != 1 {
		t.Errorf("Expected 1 expired session, got %d", report.Expired)
	}

	old := f.get(t, "old")
	if !old.IsExpired {
		t.Error("Expected old session to be marked expired")
	}
	if old.Status != types.StatusCompleted {
		t.Errorf("Expected old session completed before expiry, got %s", old.Status)
	}
	if f.get(t, "fresh").IsExpired {
		t.Error("Session inside its grace period must not expire")
	}
	if f.provider.DeleteCount() != 1 || f.provider.Deleted[0] != "mtg-old" {
		t.Errorf("Expected one provider delete for mtg-old, got %v", f.provider.Deleted)
	}

	expiredEvents := 0
	for _, typ := range f.events.Types() {
		if typ == types.EventExpired {
			expiredEvents++
		}
	}
	if expiredEvents != 1 {
		t.Errorf("Expected 1 expired event, got %d", expiredEvents)
	}

	second, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("Second RunOnce failed: %v", err)
	}
	if second.Expired != 0 || second.Advanced != 0 {
		t.Errorf("Second sweep should be a no-op, got %+v", second)
	}
	if f.provider.DeleteCount() != 1 {
		t.Errorf("Second sweep must not call the provider again, got %d deletes", f.provider.DeleteCount())
	}
}

func TestWorker_ProviderFailureStillMarksExpired(t *testing.T) {
	f := newFixture(t, nil)
	f.provider.DeleteErr = &types.ProviderError{Op: "delete_meeting", Retryable: true, Err: errors.New("503")}
	f.seed(t, testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5))

	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("Provider failure should not fail the sweep: %v", err)
	}
	if report.ProviderFailures != 1 {
		t.Errorf("Expected 1 provider failure, got %d", report.ProviderFailures)
	}
	if !f.get(t, "old").IsExpired {
		t.Error("Expected session marked expired despite provider outage")
	}
}

func TestWorker_DeleteOnExpiry(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DeleteOnExpiry = true })
	f.seed(t, testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5))

	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Deleted != 1 || f.repo.Len() != 0 {
		t.Errorf("Expected expired session deleted, report %+v, %d rows left", report, f.repo.Len())
	}
}

func TestWorker_PurgesAfterRetention(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5))

	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Purged != 0 || f.repo.Len() != 1 {
		t.Fatalf("Expired session must be retained inside the retention window, report %+v", report)
	}

	f.clock.Advance(31 * 24 * time.Hour)
	report, err = f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Purged != 1 || f.repo.Len() != 0 {
		t.Errorf("Expected archived session purged, report %+v, %d rows left", report, f.repo.Len())
	}
}

func TestWorker_PurgeRunsOncePerInterval(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	s := testutil.NewSession("archived", testutil.BaseTime.Add(-60*24*time.Hour), 60, 5)
	s.IsExpired = true
	f.seed(t, s)

	f.clock.Advance(time.Hour)
	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Purged != 0 {
		t.Errorf("Purge should wait for the purge interval, purged %d", report.Purged)
	}

	f.clock.Advance(24 * time.Hour)
	report, err = f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Purged != 1 {
		t.Errorf("Expected purge after the interval, purged %d", report.Purged)
	}
}

func TestWorker_SkipsWhenLeaseHeld(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5))

	release, ok, err := f.locker.TryLock(context.Background(), LockKey, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock failed: ok=%v err=%v", ok, err)
	}

	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if !report.Skipped {
		t.Error("Expected sweep to be skipped while the lease is held")
	}
	if f.get(t, "old").IsExpired {
		t.Error("Skipped sweep must not change state")
	}

	release()
	report, err = f.worker.RunOnce(context.Background())
	if err != nil || report.Skipped || report.Expired != 1 {
		t.Errorf("Expected sweep after release, report %+v err %v", report, err)
	}
}

func TestWorker_RepositoryErrorSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	f.repo.Err = errors.New("disk I/O error")

	if _, err := f.worker.RunOnce(context.Background()); err == nil {
		t.Error("Expected repository failure to be returned")
	}
}

// Functional Validation Tests - Lifecycle

func TestWorker_StartStop(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Interval = 10 * time.Millisecond })
	f.seed(t, testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5))

	ctx := context.Background()
	if err := f.worker.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.worker.Start(ctx); !errors.Is(err, ErrWorkerAlreadyRunning) {
		t.Errorf("Expected ErrWorkerAlreadyRunning, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !f.get(t, "old").IsExpired {
		if time.Now().After(deadline) {
			t.Fatal("Worker never ran a sweep")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.worker.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if f.worker.Running() {
		t.Error("Worker should not be running after Stop")
	}
	if err := f.worker.Stop(stopCtx); !errors.Is(err, ErrWorkerNotRunning) {
		t.Errorf("Expected ErrWorkerNotRunning, got %v", err)
	}
}

// gatedProvider holds the first DeleteMeeting until release is closed.
// A delete whose context is done by then fails.
type gatedProvider struct {
	*testutil.FakeProvider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedProvider) DeleteMeeting(ctx context.Context, meetingID string) error {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.FakeProvider.DeleteMeeting(ctx, meetingID)
}

func TestWorker_StartContextCancelDoesNotAbortSweep(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	prov := &gatedProvider{
		FakeProvider: testutil.NewFakeProvider(types.ProviderHosted),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	registry := provider.NewRegistry(prov)
	clock := testutil.NewClock(testutil.BaseTime)
	sessions := session.NewManager(repo, registry, credential.NewIssuer(registry, time.Hour), nil, session.DefaultConfig(), nil).
		WithClock(clock.Now)
	w := NewWorker(repo, sessions, lock.NewLocalLocker(), DefaultConfig(), nil).WithClock(clock.Now)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if err := repo.CreateSession(context.Background(), testutil.NewSession(id, testutil.BaseTime.Add(-48*time.Hour), 60, 5)); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-prov.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Sweep never reached the provider")
	}
	cancel()
	close(prov.release)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := prov.DeleteCount(); got != len(ids) {
		t.Errorf("Expected %d provider deletes after shutdown, got %d", len(ids), got)
	}
	for _, id := range ids {
		s, err := repo.GetSession(context.Background(), id)
		if err != nil || !s.IsExpired {
			t.Errorf("Session %s should be reclaimed by the in-flight sweep: %+v %v", id, s, err)
		}
	}
}

// failingDeleteRepo fails the first n DeleteSession calls.
type failingDeleteRepo struct {
	*testutil.MemoryRepository
	failures int
}

func (r *failingDeleteRepo) DeleteSession(ctx context.Context, sessionID string) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("database is locked")
	}
	return r.MemoryRepository.DeleteSession(ctx, sessionID)
}

func TestWorker_DeleteOnExpiryRetriesFailedDelete(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DeleteOnExpiry = true })
	repo := &failingDeleteRepo{MemoryRepository: f.repo, failures: 1}
	w := NewWorker(repo, f.sessions, f.locker, f.worker.config, nil).WithClock(f.clock.Now)
	f.seed(t, testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5))

	report, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Expired != 1 || report.Deleted != 0 {
		t.Errorf("Expected expiry with a failed delete, got %+v", report)
	}
	if report.Purged != 1 || f.repo.Len() != 0 {
		t.Errorf("Expected the expired row removed in the same sweep, report %+v, %d rows left", report, f.repo.Len())
	}
}

func TestWorker_DeleteOnExpiryRemovesStrandedRows(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DeleteOnExpiry = true })
	if _, err := f.worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	stranded := testutil.NewSession("stranded", testutil.BaseTime.Add(-48*time.Hour), 60, 5)
	stranded.IsExpired = true
	f.seed(t, stranded)

	f.clock.Advance(time.Minute)
	report, err := f.worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if report.Purged != 1 || f.repo.Len() != 0 {
		t.Errorf("Already expired row should go on the next sweep, report %+v, %d rows left", report, f.repo.Len())
	}
}

func TestWorker_StatusDuringSweep(t *testing.T) {
	repo := testutil.NewMemoryRepository()
	prov := &gatedProvider{
		FakeProvider: testutil.NewFakeProvider(types.ProviderHosted),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	registry := provider.NewRegistry(prov)
	clock := testutil.NewClock(testutil.BaseTime)
	sessions := session.NewManager(repo, registry, credential.NewIssuer(registry, time.Hour), nil, session.DefaultConfig(), nil).
		WithClock(clock.Now)
	w := NewWorker(repo, sessions, lock.NewLocalLocker(), DefaultConfig(), nil).WithClock(clock.Now)
	if err := repo.CreateSession(context.Background(), testutil.NewSession("old", testutil.BaseTime.Add(-48*time.Hour), 60, 5)); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-prov.entered

	status := make(chan Status, 1)
	go func() { status <- w.Status() }()
	select {
	case st := <-status:
		if !st.Running || st.LastPurge != nil {
			t.Errorf("Expected running worker with no purge yet, got %+v", st)
		}
	case <-time.After(time.Second):
		t.Error("Status blocked behind the running sweep")
	}
	close(prov.release)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	st := w.Status()
	if st.Running || st.LastPurge == nil || !st.LastPurge.Equal(testutil.BaseTime) {
		t.Errorf("Expected stopped worker with a recorded purge, got %+v", st)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
	bad := DefaultConfig()
	bad.BatchSize = 0
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero batch size")
	}
}
