package orchestrator

import (
	"context"
	"time"
)

// ComponentHealth is one probed component's status.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthStatus is the orchestrator's aggregate health, recomputed by
// the health loop and on demand. Never persisted as history.
type HealthStatus struct {
	State      State             `json:"state"`
	Healthy    bool              `json:"healthy"`
	Components []ComponentHealth `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// MonitoringMetrics is the aggregate counter view exposed to the API
// layer.
type MonitoringMetrics struct {
	ScansCompleted     int64     `json:"scans_completed"`
	ScansFailed        int64     `json:"scans_failed"`
	DevicesDiscovered  int       `json:"devices_discovered"`
	ChangesDetected    int64     `json:"changes_detected"`
	SignificantChanges int64     `json:"significant_changes"`
	LastScanAt         time.Time `json:"last_scan_at,omitzero"`
	LastDiffAt         time.Time `json:"last_diff_at,omitzero"`
	StartedAt          time.Time `json:"started_at,omitzero"`
}

// healthLoop probes storage on its own cadence, independent of scans.
// A failed probe degrades reported health but never stops the
// orchestrator.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer o.loopWG.Done()

	ticker := time.NewTicker(o.opts.HealthInterval)
	defer ticker.Stop()

	o.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.probe(ctx)
		}
	}
}

func (o *Orchestrator) probe(ctx context.Context) {
	now := time.Now().UTC()
	var components []ComponentHealth

	st := o.storage()
	storageHealth := ComponentHealth{Name: "storage", CheckedAt: now}
	if st == nil {
		storageHealth.Message = "not connected"
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := o.storageBreaker.Do(probeCtx, func(ctx context.Context) error {
			return st.Ping(ctx)
		})
		cancel()
		if err != nil {
			storageHealth.Message = err.Error()
			o.log.Warn().Err(err).Msg("storage health probe failed")
		} else {
			storageHealth.Healthy = true
		}
	}
	components = append(components, storageHealth)

	schedulerHealth := ComponentHealth{Name: "scheduler", CheckedAt: now}
	o.mu.Lock()
	schedulerHealth.Healthy = o.sched != nil
	if !schedulerHealth.Healthy {
		schedulerHealth.Message = "not running"
	}
	components = append(components, schedulerHealth)

	healthy := true
	for _, c := range components {
		if !c.Healthy {
			healthy = false
		}
	}
	o.stats.lastHealth = HealthStatus{
		State:      o.state,
		Healthy:    healthy && o.state == StateRunning,
		Components: components,
		CheckedAt:  now,
	}
	o.mu.Unlock()
}

// Health returns the last computed health status.
func (o *Orchestrator) Health() HealthStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := o.stats.lastHealth
	if h.CheckedAt.IsZero() {
		h = HealthStatus{State: o.state, CheckedAt: time.Now().UTC()}
	}
	h.State = o.state
	return h
}

// Metrics returns the aggregate monitoring counters.
func (o *Orchestrator) Metrics() MonitoringMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return MonitoringMetrics{
		ScansCompleted:     o.stats.scansCompleted,
		ScansFailed:        o.stats.scansFailed,
		DevicesDiscovered:  o.stats.devicesDiscovered,
		ChangesDetected:    o.stats.changesDetected,
		SignificantChanges: o.stats.significantChanges,
		LastScanAt:         o.stats.lastScanAt,
		LastDiffAt:         o.stats.lastDiffAt,
		StartedAt:          o.stats.startedAt,
	}
}
