// Package orchestrator is the top-level coordinator and the only
// component the API layer calls. It owns the lifecycle state machine,
// wires the scheduler, store and diff engine together, runs the health
// loop and raises notification signals.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"netwatch/core-go/internal/metrics"
	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/notify"
	"netwatch/core-go/internal/orchestrator/resilience"
	"netwatch/core-go/internal/scanner"
	"netwatch/core-go/internal/scheduler"
	"netwatch/core-go/internal/store"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// WrongStateError rejects a lifecycle call made in an incompatible
// state. Transitions never queue.
type WrongStateError struct {
	Op    string
	State State
}

func (e *WrongStateError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

// Storage is what the orchestrator needs from persistence: the store
// operations plus connection ownership.
type Storage interface {
	store.Store
	Close()
}

// RecurringScan configures the default recurring job registered at
// startup.
type RecurringScan struct {
	Target   string
	Interval time.Duration
	Profile  model.ScanProfile
}

// Options wires the orchestrator's collaborators and policy. OpenStore
// and Adapter are required.
type Options struct {
	// OpenStore establishes storage connectivity and applies pending
	// schema upgrades. Called on every start so restart() can recover
	// from a dead connection.
	OpenStore func(ctx context.Context) (Storage, error)

	Adapter   scanner.Adapter
	Scheduler scheduler.Options
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics

	HealthInterval             time.Duration
	SignificantChangeThreshold int
	DiffIdentity               string // "ip" (default) | "mac"
	DefaultScans               []RecurringScan
	RetentionMaxAge            time.Duration // 0 disables the sweep
	RetentionSweepInterval     time.Duration

	StorageRetry        resilience.RetryPolicy
	BreakerFailureLimit int
	BreakerResetTimeout time.Duration
	StartupTimeout      time.Duration
}

// Orchestrator coordinates the monitoring pipeline.
type Orchestrator struct {
	log  zerolog.Logger
	opts Options

	storageBreaker *resilience.CircuitBreaker

	mu    sync.Mutex
	state State
	st    Storage
	sched *scheduler.Scheduler

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup

	stats runtimeStats
}

// runtimeStats backs MonitoringMetrics; guarded by Orchestrator.mu.
type runtimeStats struct {
	startedAt          time.Time
	scansCompleted     int64
	scansFailed        int64
	devicesDiscovered  int
	changesDetected    int64
	significantChanges int64
	lastScanAt         time.Time
	lastDiffAt         time.Time
	lastHealth         HealthStatus
}

func New(log zerolog.Logger, opts Options) *Orchestrator {
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = 30 * time.Second
	}
	if opts.SignificantChangeThreshold <= 0 {
		opts.SignificantChangeThreshold = 10
	}
	if opts.RetentionSweepInterval <= 0 {
		opts.RetentionSweepInterval = time.Hour
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 30 * time.Second
	}
	if opts.StorageRetry.MaxAttempts <= 0 {
		opts.StorageRetry = resilience.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    5 * time.Second,
		}
	}

	return &Orchestrator{
		log:            log,
		opts:           opts,
		storageBreaker: resilience.NewCircuitBreaker(opts.BreakerFailureLimit, opts.BreakerResetTimeout),
		state:          StateStopped,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start brings the orchestrator to running. Each startup step must
// succeed before the next; any failure rolls back and lands in the
// error state. A Start while transitioning fails immediately.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped {
		st := o.state
		o.mu.Unlock()
		return &WrongStateError{Op: "start", State: st}
	}
	o.state = StateStarting
	o.mu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, o.opts.StartupTimeout)
	defer cancel()

	// Storage connectivity and schema upgrades.
	var st Storage
	err := resilience.Retry(startCtx, o.opts.StorageRetry, func(ctx context.Context) error {
		var err error
		st, err = o.opts.OpenStore(ctx)
		return err
	})
	if err != nil {
		o.fail("open store", err)
		return err
	}

	// Scheduler over the scanner adapter.
	sched := scheduler.New(o.log, o.opts.Adapter, o.opts.Scheduler)

	loopCtx, loopCancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.st = st
	o.sched = sched
	o.loopCancel = loopCancel
	o.stats = runtimeStats{startedAt: time.Now().UTC()}
	o.mu.Unlock()

	// Snapshot consumer first so no event is dropped, then health and
	// retention loops, then dispatch.
	o.loopWG.Add(1)
	go o.consumeEvents(loopCtx, sched.Events())

	o.loopWG.Add(1)
	go o.healthLoop(loopCtx)

	if o.opts.RetentionMaxAge > 0 {
		o.loopWG.Add(1)
		go o.retentionLoop(loopCtx)
	}

	sched.Start()

	for _, rs := range o.opts.DefaultScans {
		if _, err := sched.Schedule(rs.Target, rs.Interval, rs.Profile); err != nil {
			o.log.Error().Err(err).Str("target", rs.Target).Msg("default recurring scan rejected")
			sched.Stop()
			loopCancel()
			o.loopWG.Wait()
			st.Close()
			o.fail("register default scan", err)
			return err
		}
	}

	o.mu.Lock()
	o.state = StateRunning
	o.mu.Unlock()
	o.log.Info().Msg("orchestrator running")
	return nil
}

// Stop shuts the pipeline down: health loop, scheduler (bounded grace),
// storage. Idempotent when already stopped; fails fast while another
// transition is in flight.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StateStopped:
		o.mu.Unlock()
		return nil
	case StateRunning, StateError:
	default:
		st := o.state
		o.mu.Unlock()
		return &WrongStateError{Op: "stop", State: st}
	}
	o.state = StateStopping
	sched := o.sched
	st := o.st
	cancel := o.loopCancel
	o.sched = nil
	o.st = nil
	o.loopCancel = nil
	o.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	if cancel != nil {
		cancel()
	}
	o.loopWG.Wait()
	if st != nil {
		st.Close()
	}

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	o.log.Info().Msg("orchestrator stopped")
	return nil
}

// Restart recovers from the error state (or bounces a running
// instance).
func (o *Orchestrator) Restart(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil {
		return err
	}
	return o.Start(ctx)
}

// fail releases nothing (callers already rolled back) and records the
// unrecoverable state.
func (o *Orchestrator) fail(op string, err error) {
	o.log.Error().Err(err).Str("op", op).Msg("orchestrator startup failed")
	o.mu.Lock()
	o.state = StateError
	o.mu.Unlock()
}
