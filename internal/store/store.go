// Package store defines durable, append-only persistence for snapshots
// and diffs. There is no update operation; rows leave only through the
// retention sweep.
package store

import (
	"context"
	"time"

	"netwatch/core-go/internal/model"
)

// SnapshotFilter narrows a listing. Zero fields match everything.
type SnapshotFilter struct {
	Since    time.Time
	Until    time.Time
	ScanType model.ScanProfile
}

// Page is offset pagination. Limit<=0 falls back to the
// implementation's default.
type Page struct {
	Limit  int
	Offset int
}

// SnapshotPage is one page of results plus the unpaginated total.
type SnapshotPage struct {
	Snapshots []model.NetworkSnapshot
	Total     int
}

// Store is the persistence boundary used by the orchestrator and the
// API layer. Implementations surface connectivity failures as
// *model.InfrastructureError, absent ids as *model.NotFoundError and
// bad input as *model.ValidationError.
type Store interface {
	// CreateSnapshot appends one snapshot. The snapshot carries its id.
	CreateSnapshot(ctx context.Context, snap *model.NetworkSnapshot) error

	// GetSnapshot fetches one snapshot by id.
	GetSnapshot(ctx context.Context, id string) (*model.NetworkSnapshot, error)

	// GetLatestSnapshot returns the newest snapshot, or (nil, nil) when
	// none exist yet.
	GetLatestSnapshot(ctx context.Context) (*model.NetworkSnapshot, error)

	// ListSnapshots pages snapshot headers (devices included) newest
	// first.
	ListSnapshots(ctx context.Context, filter SnapshotFilter, page Page) (SnapshotPage, error)

	// CreateDiff appends one diff. Re-submitting a diff for an existing
	// (from, to) pair is an idempotent no-op, not an error.
	CreateDiff(ctx context.Context, d *model.SnapshotDiff) error

	// ListRecentDiffs returns diffs computed since the given time,
	// newest first.
	ListRecentDiffs(ctx context.Context, since time.Time) ([]model.SnapshotDiff, error)

	// DeleteSnapshot removes one snapshot and its diffs. Retention only.
	DeleteSnapshot(ctx context.Context, id string) error

	// DeleteOlderThan removes snapshots and diffs older than cutoff and
	// reports how many snapshots went.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error
}
