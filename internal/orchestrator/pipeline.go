package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"netwatch/core-go/internal/diff"
	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/notify"
	"netwatch/core-go/internal/scheduler"
)

// consumeEvents handles scheduler output one event at a time. Diffs are
// therefore computed against whichever snapshot was latest at handling
// time: two scans finishing together are diffed in completion order.
func (o *Orchestrator) consumeEvents(ctx context.Context, events <-chan scheduler.Event) {
	defer o.loopWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			switch e.Type {
			case scheduler.EventSnapshotProduced:
				o.handleSnapshot(ctx, e)
			case scheduler.EventScanFailed:
				o.handleScanFailure(ctx, e)
			}
		}
	}
}

func (o *Orchestrator) handleSnapshot(ctx context.Context, e scheduler.Event) {
	snap := e.Snapshot
	if snap == nil {
		return
	}

	st := o.storage()
	if st == nil {
		return
	}

	// Fetch the prior latest before appending the new snapshot; the
	// consumer is serialized, so this read cannot race another diff.
	var prior *model.NetworkSnapshot
	err := o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		var err error
		prior, err = st.GetLatestSnapshot(ctx)
		return err
	})
	if err != nil {
		o.log.Error().Err(err).Str("snapshot_id", snap.ID).Msg("failed to read prior snapshot; dropping result")
		o.recordScanFailure()
		return
	}

	if err := o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		return st.CreateSnapshot(ctx, snap)
	}); err != nil {
		o.log.Error().Err(err).Str("snapshot_id", snap.ID).Msg("failed to persist snapshot")
		o.recordScanFailure()
		return
	}

	o.mu.Lock()
	o.stats.scansCompleted++
	o.stats.devicesDiscovered = snap.DeviceCount
	o.stats.lastScanAt = time.Now().UTC()
	o.mu.Unlock()
	o.opts.Metrics.ObserveScan("success", snap.Metadata.ScanDuration)
	o.opts.Metrics.SetDevicesDiscovered(snap.DeviceCount)

	if prior == nil || prior.ID == snap.ID {
		return
	}

	diffStart := time.Now()
	d := diff.Compute(prior, snap, diff.Options{Identity: diff.IdentityPolicy(o.opts.DiffIdentity)})
	o.opts.Metrics.ObserveDiffDuration(time.Since(diffStart))

	d.ID = uuid.NewString()
	d.Timestamp = time.Now().UTC()

	if err := o.storageBreaker.Do(ctx, func(ctx context.Context) error {
		return st.CreateDiff(ctx, &d)
	}); err != nil {
		o.log.Error().Err(err).Str("diff_id", d.ID).Msg("failed to persist diff")
		return
	}

	o.mu.Lock()
	o.stats.changesDetected += int64(d.Summary.TotalChanges)
	o.stats.lastDiffAt = d.Timestamp
	o.mu.Unlock()
	o.opts.Metrics.AddChangesDetected(d.Summary.TotalChanges)

	o.log.Info().
		Str("snapshot_id", snap.ID).
		Str("diff_id", d.ID).
		Int("total_changes", d.Summary.TotalChanges).
		Msg("snapshot processed")

	if d.Summary.TotalChanges > o.opts.SignificantChangeThreshold {
		o.mu.Lock()
		o.stats.significantChanges++
		o.mu.Unlock()
		o.opts.Metrics.IncSignificantChange()

		summary := d.Summary
		o.opts.Notifier.Notify(ctx, notify.Signal{
			Type:       "significant_change",
			Target:     e.Target,
			SnapshotID: snap.ID,
			DiffID:     d.ID,
			Summary:    &summary,
		})
	}
}

func (o *Orchestrator) handleScanFailure(ctx context.Context, e scheduler.Event) {
	o.recordScanFailure()

	errMsg := ""
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	o.opts.Notifier.Notify(ctx, notify.Signal{
		Type:   "scan_failed",
		Target: e.Target,
		Error:  errMsg,
	})
}

func (o *Orchestrator) recordScanFailure() {
	o.mu.Lock()
	o.stats.scansFailed++
	o.mu.Unlock()
	o.opts.Metrics.ObserveScan("failed", 0)
}

func (o *Orchestrator) storage() Storage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.st
}

// retentionLoop removes snapshots and diffs beyond the retention
// window.
func (o *Orchestrator) retentionLoop(ctx context.Context) {
	defer o.loopWG.Done()

	ticker := time.NewTicker(o.opts.RetentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := o.storage()
		if st == nil {
			return
		}
		cutoff := time.Now().Add(-o.opts.RetentionMaxAge)
		removed, err := st.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			o.log.Warn().Err(err).Msg("retention sweep failed")
			continue
		}
		if removed > 0 {
			o.log.Info().Int64("snapshots_removed", removed).Time("cutoff", cutoff).Msg("retention sweep")
		}
	}
}
