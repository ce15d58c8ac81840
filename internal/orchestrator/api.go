package orchestrator

import (
	"context"
	"time"

	"netwatch/core-go/internal/diff"
	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/scanner"
	"netwatch/core-go/internal/store"
)

// TriggerManualScan runs one scan immediately and blocks until the
// snapshot exists or the scan has exhausted its retries. Persistence
// and diffing happen through the usual event pipeline.
func (o *Orchestrator) TriggerManualScan(ctx context.Context, target string, profile model.ScanProfile, timeout time.Duration) (*model.NetworkSnapshot, error) {
	o.mu.Lock()
	if o.state != StateRunning {
		st := o.state
		o.mu.Unlock()
		return nil, &WrongStateError{Op: "scan", State: st}
	}
	sched := o.sched
	o.mu.Unlock()

	if timeout <= 0 {
		timeout = scanner.DefaultTimeout(profile)
	}
	return sched.TriggerManual(ctx, target, profile, timeout)
}

// ScheduleRecurringScan registers a recurring scan job and returns its
// id.
func (o *Orchestrator) ScheduleRecurringScan(target string, interval time.Duration, profile model.ScanProfile) (string, error) {
	o.mu.Lock()
	if o.state != StateRunning {
		st := o.state
		o.mu.Unlock()
		return "", &WrongStateError{Op: "schedule scan", State: st}
	}
	sched := o.sched
	o.mu.Unlock()

	return sched.Schedule(target, interval, profile)
}

// UnscheduleRecurringScan removes a recurring scan job. Returns false
// when the id is unknown.
func (o *Orchestrator) UnscheduleRecurringScan(jobID string) bool {
	o.mu.Lock()
	sched := o.sched
	o.mu.Unlock()
	if sched == nil {
		return false
	}
	return sched.Unschedule(jobID)
}

// GetLatestSnapshot returns the newest persisted snapshot, or nil when
// no scan has completed yet.
func (o *Orchestrator) GetLatestSnapshot(ctx context.Context) (*model.NetworkSnapshot, error) {
	st, err := o.readableStorage("get latest snapshot")
	if err != nil {
		return nil, err
	}
	var snap *model.NetworkSnapshot
	err = o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = st.GetLatestSnapshot(ctx)
		return err
	})
	return snap, err
}

// GetSnapshot returns one snapshot by id.
func (o *Orchestrator) GetSnapshot(ctx context.Context, id string) (*model.NetworkSnapshot, error) {
	st, err := o.readableStorage("get snapshot")
	if err != nil {
		return nil, err
	}
	var snap *model.NetworkSnapshot
	err = o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, err = st.GetSnapshot(ctx, id)
		return err
	})
	return snap, err
}

// ListSnapshots returns a filtered, paginated page of snapshots, newest
// first.
func (o *Orchestrator) ListSnapshots(ctx context.Context, filter store.SnapshotFilter, page store.Page) (store.SnapshotPage, error) {
	st, err := o.readableStorage("list snapshots")
	if err != nil {
		return store.SnapshotPage{}, err
	}
	var out store.SnapshotPage
	err = o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = st.ListSnapshots(ctx, filter, page)
		return err
	})
	return out, err
}

// CompareSnapshots computes an ad hoc diff between two stored
// snapshots. The result is not persisted.
func (o *Orchestrator) CompareSnapshots(ctx context.Context, fromID, toID string) (*model.SnapshotDiff, error) {
	st, err := o.readableStorage("compare snapshots")
	if err != nil {
		return nil, err
	}

	var from, to *model.NetworkSnapshot
	err = o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		if from, err = st.GetSnapshot(ctx, fromID); err != nil {
			return err
		}
		to, err = st.GetSnapshot(ctx, toID)
		return err
	})
	if err != nil {
		return nil, err
	}

	d := diff.Compute(from, to, diff.Options{Identity: diff.IdentityPolicy(o.opts.DiffIdentity)})
	d.Timestamp = time.Now().UTC()
	return &d, nil
}

// GetRecentChanges returns diffs recorded within the trailing window.
func (o *Orchestrator) GetRecentChanges(ctx context.Context, window time.Duration) ([]model.SnapshotDiff, error) {
	st, err := o.readableStorage("get recent changes")
	if err != nil {
		return nil, err
	}
	var diffs []model.SnapshotDiff
	err = o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		diffs, err = st.ListRecentDiffs(ctx, time.Now().UTC().Add(-window))
		return err
	})
	return diffs, err
}

// DeleteSnapshot removes one snapshot and its associated diffs.
func (o *Orchestrator) DeleteSnapshot(ctx context.Context, id string) error {
	st, err := o.readableStorage("delete snapshot")
	if err != nil {
		return err
	}
	return o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		return st.DeleteSnapshot(ctx, id)
	})
}

// readableStorage gates read paths on the running state so API calls
// against a stopped orchestrator fail with a state error rather than a
// nil dereference.
func (o *Orchestrator) readableStorage(op string) (Storage, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning || o.st == nil {
		return nil, &WrongStateError{Op: op, State: o.state}
	}
	return o.st, nil
}
