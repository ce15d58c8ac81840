// Package scheduler owns recurring and manual scan requests. A single
// dispatch loop admits due jobs up to the concurrency ceiling; each
// admitted scan runs as its own goroutine with retry and capped
// doubling backoff. Completed snapshots and terminal failures are
// emitted on a typed event channel.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/scanner"
)

// ErrNotRunning is returned for operations that need the dispatch loop.
var ErrNotRunning = errors.New("scheduler is not running")

// Options tunes the scheduler. Zero values fall back to defaults in
// New.
type Options struct {
	MaxConcurrentScans int
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	MinInterval        time.Duration
	StopGrace          time.Duration
	EventBuffer        int
}

type job struct {
	id       string
	target   string
	profile  model.ScanProfile
	interval time.Duration // 0 for one-shot manual runs
	timeout  time.Duration
	due      time.Time
	result   chan manualResult // non-nil for manual runs
}

type manualResult struct {
	snapshot *model.NetworkSnapshot
	err      error
}

type Scheduler struct {
	log     zerolog.Logger
	adapter scanner.Adapter

	maxConcurrent int
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	minInterval   time.Duration
	stopGrace     time.Duration

	sem    *semaphore.Weighted
	events chan Event

	mu      sync.Mutex
	queue   []*job
	jobs    map[string]*job // recurring registry, by id
	wake    chan struct{}
	running bool
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	scanWG  sync.WaitGroup
}

func New(log zerolog.Logger, adapter scanner.Adapter, opts Options) *Scheduler {
	maxConcurrent := opts.MaxConcurrentScans
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 2 * time.Second
	}
	maxDelay := opts.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	minInterval := opts.MinInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	stopGrace := opts.StopGrace
	if stopGrace <= 0 {
		stopGrace = 10 * time.Second
	}
	eventBuffer := opts.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = 64
	}

	return &Scheduler{
		log:           log,
		adapter:       adapter,
		maxConcurrent: maxConcurrent,
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
		minInterval:   minInterval,
		stopGrace:     stopGrace,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		events:        make(chan Event, eventBuffer),
		jobs:          make(map[string]*job),
		wake:          make(chan struct{}, 1),
	}
}

// Events is the scheduler's output channel. The orchestrator consumes
// it serially; it is never closed while the scheduler can still emit.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// Schedule registers a recurring job. The first run is due one interval
// from now.
func (s *Scheduler) Schedule(target string, interval time.Duration, profile model.ScanProfile) (string, error) {
	if err := scanner.ValidateTarget(target); err != nil {
		return "", err
	}
	if interval < s.minInterval {
		return "", &model.ValidationError{
			Field:  "interval",
			Reason: "below configured minimum " + s.minInterval.String(),
		}
	}
	if !model.ValidProfile(profile) {
		profile = scanner.CanonicalProfile(string(profile))
	}

	j := &job{
		id:       uuid.NewString(),
		target:   target,
		profile:  profile,
		interval: interval,
		due:      time.Now().Add(interval),
	}

	s.mu.Lock()
	s.jobs[j.id] = j
	s.queue = append(s.queue, j)
	s.mu.Unlock()
	s.kick()

	s.log.Info().
		Str("job_id", j.id).
		Str("target", target).
		Str("profile", string(profile)).
		Dur("interval", interval).
		Msg("recurring scan scheduled")
	return j.id, nil
}

// Unschedule removes a recurring job. Pending queue entries for it are
// dropped at dispatch time.
func (s *Scheduler) Unschedule(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return false
	}
	delete(s.jobs, jobID)
	return true
}

// TriggerManual runs one scan immediately, subject to the concurrency
// ceiling, and blocks until completion or final failure.
func (s *Scheduler) TriggerManual(ctx context.Context, target string, profile model.ScanProfile, timeout time.Duration) (*model.NetworkSnapshot, error) {
	if err := scanner.ValidateTarget(target); err != nil {
		return nil, err
	}
	if !model.ValidProfile(profile) {
		profile = scanner.CanonicalProfile(string(profile))
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	j := &job{
		id:      uuid.NewString(),
		target:  target,
		profile: profile,
		timeout: timeout,
		due:     time.Now(),
		result:  make(chan manualResult, 1),
	}
	s.queue = append(s.queue, j)
	s.mu.Unlock()
	s.kick()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-j.result:
		return res.snapshot, res.err
	}
}

// Start launches the dispatch loop. Starting an already running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.loopWG.Add(1)
	go s.dispatch(ctx)
}

// Stop halts dispatch and waits for in-flight scans up to the grace
// window; scans still running after that are abandoned and their
// eventual results discarded.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.loopWG.Wait()

	done := make(chan struct{})
	go func() {
		s.scanWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.stopGrace):
		s.log.Warn().Dur("grace", s.stopGrace).Msg("abandoning in-flight scans after grace window")
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
