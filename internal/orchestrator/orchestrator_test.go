package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/notify"
	"netwatch/core-go/internal/scheduler"
	"netwatch/core-go/internal/store"
)

// fakeStorage is an in-memory Storage with per-method overrides.
type fakeStorage struct {
	mu        sync.Mutex
	snapshots []model.NetworkSnapshot
	diffs     []model.SnapshotDiff

	createSnapshotFn func(ctx context.Context, snap *model.NetworkSnapshot) error
	getLatestFn      func(ctx context.Context) (*model.NetworkSnapshot, error)
	createDiffFn     func(ctx context.Context, d *model.SnapshotDiff) error
	pingFn           func(ctx context.Context) error
}

func (f *fakeStorage) CreateSnapshot(ctx context.Context, snap *model.NetworkSnapshot) error {
	if f.createSnapshotFn != nil {
		return f.createSnapshotFn(ctx, snap)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, *snap)
	return nil
}

func (f *fakeStorage) GetSnapshot(ctx context.Context, id string) (*model.NetworkSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.snapshots {
		if f.snapshots[i].ID == id {
			snap := f.snapshots[i]
			return &snap, nil
		}
	}
	return nil, &model.NotFoundError{Kind: "snapshot", ID: id}
}

func (f *fakeStorage) GetLatestSnapshot(ctx context.Context) (*model.NetworkSnapshot, error) {
	if f.getLatestFn != nil {
		return f.getLatestFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snapshots) == 0 {
		return nil, nil
	}
	snap := f.snapshots[len(f.snapshots)-1]
	return &snap, nil
}

func (f *fakeStorage) ListSnapshots(ctx context.Context, filter store.SnapshotFilter, page store.Page) (store.SnapshotPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.NetworkSnapshot, len(f.snapshots))
	copy(out, f.snapshots)
	return store.SnapshotPage{Snapshots: out, Total: len(out)}, nil
}

func (f *fakeStorage) CreateDiff(ctx context.Context, d *model.SnapshotDiff) error {
	if f.createDiffFn != nil {
		return f.createDiffFn(ctx, d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffs = append(f.diffs, *d)
	return nil
}

func (f *fakeStorage) ListRecentDiffs(ctx context.Context, since time.Time) ([]model.SnapshotDiff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SnapshotDiff, len(f.diffs))
	copy(out, f.diffs)
	return out, nil
}

func (f *fakeStorage) DeleteSnapshot(ctx context.Context, id string) error { return nil }

func (f *fakeStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeStorage) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStorage) Close() {}

func (f *fakeStorage) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

func (f *fakeStorage) diffCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.diffs)
}

type fakeAdapter struct {
	mu      sync.Mutex
	devices []model.Device
	err     error
}

func (f *fakeAdapter) Scan(ctx context.Context, target string, profile model.ScanProfile, timeout time.Duration) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Device, len(f.devices))
	copy(out, f.devices)
	return out, nil
}

func (f *fakeAdapter) setDevices(devices []model.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = devices
	f.err = nil
}

type captureSink struct {
	mu      sync.Mutex
	signals []notify.Signal
}

func (s *captureSink) Deliver(_ context.Context, sig notify.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *captureSink) byType(sigType string) []notify.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Signal
	for _, sig := range s.signals {
		if sig.Type == sigType {
			out = append(out, sig)
		}
	}
	return out
}

func newTestOrchestrator(st *fakeStorage, adapter *fakeAdapter, sink *captureSink, mutate func(*Options)) *Orchestrator {
	opts := Options{
		OpenStore: func(ctx context.Context) (Storage, error) { return st, nil },
		Adapter:   adapter,
		Scheduler: scheduler.Options{
			MaxConcurrentScans: 2,
			MaxRetries:         0,
			RetryBaseDelay:     time.Millisecond,
			RetryMaxDelay:      time.Millisecond,
			StopGrace:          time.Second,
		},
		HealthInterval:             10 * time.Millisecond,
		SignificantChangeThreshold: 2,
	}
	if sink != nil {
		opts.Notifier = notify.New(zerolog.Nop(), sink)
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(zerolog.Nop(), opts)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	o := newTestOrchestrator(&fakeStorage{}, &fakeAdapter{}, nil, nil)
	ctx := context.Background()

	if got := o.State(); got != StateStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := o.State(); got != StateRunning {
		t.Fatalf("expected running, got %s", got)
	}

	// A second start fails with a wrong-state error.
	var wse *WrongStateError
	if err := o.Start(ctx); !errors.As(err, &wse) {
		t.Fatalf("expected wrong-state error, got %v", err)
	}

	if err := o.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := o.State(); got != StateStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	// Stop is idempotent.
	if err := o.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStartFailureLandsInErrorStateAndRestartRecovers(t *testing.T) {
	boom := errors.New("connection refused")
	fails := true
	st := &fakeStorage{}

	o := newTestOrchestrator(st, &fakeAdapter{}, nil, func(opts *Options) {
		opts.OpenStore = func(ctx context.Context) (Storage, error) {
			if fails {
				return nil, boom
			}
			return st, nil
		}
		opts.StorageRetry.MaxAttempts = 1
	})

	if err := o.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected open failure, got %v", err)
	}
	if got := o.State(); got != StateError {
		t.Fatalf("expected error state, got %s", got)
	}

	fails = false
	if err := o.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := o.State(); got != StateRunning {
		t.Fatalf("expected running after restart, got %s", got)
	}
	_ = o.Stop(context.Background())
}

func TestManualScanPersistsSnapshotAndDiffs(t *testing.T) {
	st := &fakeStorage{}
	adapter := &fakeAdapter{devices: []model.Device{{IP: "10.0.0.1", IsActive: true}}}
	sink := &captureSink{}
	o := newTestOrchestrator(st, adapter, sink, nil)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	first, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	waitFor(t, func() bool { return st.snapshotCount() == 1 }, "first snapshot persisted")
	// First snapshot has no predecessor, so no diff.
	if st.diffCount() != 0 {
		t.Fatalf("expected no diff after first scan, got %d", st.diffCount())
	}

	adapter.setDevices([]model.Device{
		{IP: "10.0.0.1", IsActive: true},
		{IP: "10.0.0.2", IsActive: true},
	})
	second, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	waitFor(t, func() bool { return st.diffCount() == 1 }, "diff persisted")

	st.mu.Lock()
	d := st.diffs[0]
	st.mu.Unlock()
	if d.FromSnapshot != first.ID || d.ToSnapshot != second.ID {
		t.Fatalf("diff links wrong snapshots: %q -> %q", d.FromSnapshot, d.ToSnapshot)
	}
	if d.ID == "" || d.Timestamp.IsZero() {
		t.Fatalf("expected stamped diff id and timestamp, got %+v", d)
	}
	if d.Summary.DevicesAdded != 1 || d.Summary.TotalChanges != 1 {
		t.Fatalf("unexpected summary %+v", d.Summary)
	}

	m := o.Metrics()
	if m.ScansCompleted != 2 {
		t.Fatalf("expected 2 completed scans, got %d", m.ScansCompleted)
	}
	if m.DevicesDiscovered != 2 {
		t.Fatalf("expected 2 devices discovered, got %d", m.DevicesDiscovered)
	}
	if m.ChangesDetected != 1 {
		t.Fatalf("expected 1 change detected, got %d", m.ChangesDetected)
	}
}

func TestSignificantChangeSignal(t *testing.T) {
	st := &fakeStorage{}
	adapter := &fakeAdapter{devices: []model.Device{{IP: "10.0.0.1", IsActive: true}}}
	sink := &captureSink{}
	o := newTestOrchestrator(st, adapter, sink, func(opts *Options) {
		opts.SignificantChangeThreshold = 2
	})

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	if _, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	waitFor(t, func() bool { return st.snapshotCount() == 1 }, "first snapshot")

	// Three joins exceed the threshold of 2.
	adapter.setDevices([]model.Device{
		{IP: "10.0.0.1", IsActive: true},
		{IP: "10.0.0.2", IsActive: true},
		{IP: "10.0.0.3", IsActive: true},
		{IP: "10.0.0.4", IsActive: true},
	})
	if _, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	waitFor(t, func() bool { return len(sink.byType("significant_change")) == 1 }, "significant change signal")
	sig := sink.byType("significant_change")[0]
	if sig.Summary == nil || sig.Summary.TotalChanges != 3 {
		t.Fatalf("unexpected signal summary %+v", sig.Summary)
	}
	if o.Metrics().SignificantChanges != 1 {
		t.Fatalf("expected significant change counted")
	}
}

func TestScanFailureRaisesSignal(t *testing.T) {
	st := &fakeStorage{}
	adapter := &fakeAdapter{err: errors.New("host unreachable")}
	sink := &captureSink{}
	o := newTestOrchestrator(st, adapter, sink, nil)

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	if _, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second); err == nil {
		t.Fatalf("expected scan failure")
	}
	waitFor(t, func() bool { return len(sink.byType("scan_failed")) == 1 }, "scan failure signal")
	if o.Metrics().ScansFailed != 1 {
		t.Fatalf("expected failed scan counted")
	}
}

func TestAPICallsRejectedWhenStopped(t *testing.T) {
	o := newTestOrchestrator(&fakeStorage{}, &fakeAdapter{}, nil, nil)
	ctx := context.Background()

	var wse *WrongStateError
	if _, err := o.TriggerManualScan(ctx, "10.0.0.0/24", model.ProfileQuick, time.Second); !errors.As(err, &wse) {
		t.Fatalf("expected wrong-state error, got %v", err)
	}
	if _, err := o.GetLatestSnapshot(ctx); !errors.As(err, &wse) {
		t.Fatalf("expected wrong-state error, got %v", err)
	}
	if _, err := o.CompareSnapshots(ctx, "a", "b"); !errors.As(err, &wse) {
		t.Fatalf("expected wrong-state error, got %v", err)
	}
}

func TestCompareSnapshotsNotFound(t *testing.T) {
	st := &fakeStorage{}
	o := newTestOrchestrator(st, &fakeAdapter{}, nil, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	if _, err := o.CompareSnapshots(context.Background(), "missing-a", "missing-b"); !model.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCompareSnapshotsAdHoc(t *testing.T) {
	st := &fakeStorage{}
	adapter := &fakeAdapter{devices: []model.Device{{IP: "10.0.0.1", IsActive: true}}}
	o := newTestOrchestrator(st, adapter, nil, nil)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	a, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second)
	if err != nil {
		t.Fatalf("scan a: %v", err)
	}
	waitFor(t, func() bool { return st.snapshotCount() == 1 }, "snapshot a")

	adapter.setDevices([]model.Device{{IP: "10.0.0.2", IsActive: true}})
	b, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second)
	if err != nil {
		t.Fatalf("scan b: %v", err)
	}
	waitFor(t, func() bool { return st.snapshotCount() == 2 }, "snapshot b")

	d, err := o.CompareSnapshots(context.Background(), a.ID, b.ID)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if d.Summary.DevicesAdded != 1 || d.Summary.DevicesRemoved != 1 {
		t.Fatalf("unexpected comparison %+v", d.Summary)
	}
	// Ad hoc comparisons are not persisted.
	if st.diffCount() > 1 {
		t.Fatalf("expected ad hoc diff unpersisted")
	}
}

func TestHealthDegradesOnStorageFailure(t *testing.T) {
	st := &fakeStorage{}
	var failPing bool
	var mu sync.Mutex
	st.pingFn = func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if failPing {
			return &model.InfrastructureError{Op: "ping", Err: errors.New("down")}
		}
		return nil
	}

	o := newTestOrchestrator(st, &fakeAdapter{}, nil, func(opts *Options) {
		opts.BreakerFailureLimit = 100 // keep the breaker out of this test
	})
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	waitFor(t, func() bool { return o.Health().Healthy }, "initial healthy probe")

	mu.Lock()
	failPing = true
	mu.Unlock()

	waitFor(t, func() bool { return !o.Health().Healthy }, "degraded health")
	if got := o.State(); got != StateRunning {
		t.Fatalf("failed probe must not stop the orchestrator, got state %s", got)
	}

	mu.Lock()
	failPing = false
	mu.Unlock()
	waitFor(t, func() bool { return o.Health().Healthy }, "recovered health")
}

func TestStorageFailureDropsResultWithoutStoppingScheduler(t *testing.T) {
	st := &fakeStorage{}
	boom := &model.InfrastructureError{Op: "insert", Err: errors.New("down")}
	st.createSnapshotFn = func(ctx context.Context, snap *model.NetworkSnapshot) error { return boom }

	adapter := &fakeAdapter{devices: []model.Device{{IP: "10.0.0.1", IsActive: true}}}
	o := newTestOrchestrator(st, adapter, nil, func(opts *Options) {
		opts.BreakerFailureLimit = 100
	})
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer o.Stop(context.Background())

	// The scan itself succeeds; the persist failure is recorded as a
	// failed scan but the orchestrator keeps running.
	if _, err := o.TriggerManualScan(context.Background(), "10.0.0.0/24", model.ProfileQuick, time.Second); err != nil {
		t.Fatalf("manual scan: %v", err)
	}
	waitFor(t, func() bool { return o.Metrics().ScansFailed == 1 }, "persist failure recorded")
	if got := o.State(); got != StateRunning {
		t.Fatalf("expected running, got %s", got)
	}
}
