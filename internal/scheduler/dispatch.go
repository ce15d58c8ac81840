package scheduler

import (
	"context"
	"errors"
	"sort"
	"time"

	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/scanner"
)

// dispatch is the single coordinating loop. It pops due jobs in
// due-time order and admits them while semaphore slots are free; jobs
// that cannot be admitted stay queued (backpressure, never rejection).
func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.loopWG.Done()

	for {
		next := s.admitDue(ctx)

		var timer *time.Timer
		var due <-chan time.Time
		if !next.IsZero() {
			d := time.Until(next)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			due = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-due:
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		}
	}
}

// admitDue starts every due job for which a semaphore slot is free and
// returns the due time of the earliest remaining job (zero when the
// queue is empty).
func (s *Scheduler) admitDue(ctx context.Context) time.Time {
	now := time.Now()

	s.mu.Lock()
	sort.Slice(s.queue, func(i, j int) bool { return s.queue[i].due.Before(s.queue[j].due) })

	var remaining []*job
	var admitted []*job
	for _, j := range s.queue {
		if j.interval > 0 {
			if _, ok := s.jobs[j.id]; !ok {
				continue // unscheduled while queued
			}
		}
		if j.due.After(now) {
			remaining = append(remaining, j)
			continue
		}
		if !s.sem.TryAcquire(1) {
			remaining = append(remaining, j)
			continue
		}
		admitted = append(admitted, j)
	}
	s.queue = remaining

	var next time.Time
	if len(remaining) > 0 {
		next = remaining[0].due
	}
	s.mu.Unlock()

	for _, j := range admitted {
		s.scanWG.Add(1)
		go s.runScan(ctx, j)
	}
	return next
}

// runScan executes one job with retries, releases its slot, reports the
// outcome, and requeues recurring jobs for their next occurrence.
func (s *Scheduler) runScan(ctx context.Context, j *job) {
	defer s.scanWG.Done()
	defer func() {
		s.sem.Release(1)
		s.kick()
	}()

	snapshot, attempts, err := s.scanWithRetry(ctx, j)

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job_id", j.id).
			Str("target", j.target).
			Int("attempts", attempts).
			Msg("scan failed after retries")
		s.emit(ctx, Event{
			Type:     EventScanFailed,
			JobID:    j.id,
			Target:   j.target,
			Profile:  j.profile,
			Attempts: attempts,
			Err:      err,
		})
		if j.result != nil {
			j.result <- manualResult{err: err}
		}
	} else {
		s.emit(ctx, Event{
			Type:     EventSnapshotProduced,
			JobID:    j.id,
			Target:   j.target,
			Profile:  j.profile,
			Attempts: attempts,
			Snapshot: snapshot,
		})
		if j.result != nil {
			j.result <- manualResult{snapshot: snapshot}
		}
	}

	// Recurring jobs come back regardless of outcome.
	if j.interval > 0 {
		s.mu.Lock()
		if _, ok := s.jobs[j.id]; ok && s.running {
			j.due = time.Now().Add(j.interval)
			s.queue = append(s.queue, j)
		}
		s.mu.Unlock()
		s.kick()
	}
}

// scanWithRetry attempts the scan up to maxRetries+1 times with capped
// doubling backoff between attempts.
func (s *Scheduler) scanWithRetry(ctx context.Context, j *job) (*model.NetworkSnapshot, int, error) {
	var lastErr error
	var scanErrors []string

	attempts := 0
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			break
		}
		attempts++

		start := time.Now()
		devices, err := s.adapter.Scan(ctx, j.target, j.profile, j.timeout)
		if err == nil {
			snap := model.NewSnapshot(devices, model.SnapshotMetadata{
				ScanDuration: time.Since(start),
				ScanType:     j.profile,
				Errors:       scanErrors,
			})
			return &snap, attempts, nil
		}

		if model.IsValidation(err) {
			return nil, attempts, err // bad input is not retried
		}
		lastErr = err
		scanErrors = append(scanErrors, err.Error())
		s.log.Warn().
			Err(err).
			Str("job_id", j.id).
			Str("target", j.target).
			Int("attempt", attempts).
			Msg("scan attempt failed")

		if attempt < s.maxRetries {
			if !s.sleep(ctx, backoffDelay(s.baseDelay, s.maxDelay, attempt)) {
				break
			}
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	var se *scanner.ScanError
	if !errors.As(lastErr, &se) {
		lastErr = &scanner.ScanError{Target: j.target, Profile: j.profile, Err: lastErr}
	}
	return nil, attempts, lastErr
}

// backoffDelay doubles per failed attempt, capped.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := base * time.Duration(1<<attempt)
	if d > cap {
		return cap
	}
	return d
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) emit(ctx context.Context, e Event) {
	select {
	case s.events <- e:
	case <-ctx.Done():
		// Shutting down; the result is discarded.
	}
}
