package pgstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/store"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	adminURL := requireTestDatabaseURL(t)

	u, err := url.Parse(adminURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", adminURL)
	}

	// Safe identifier (letters/digits/underscores) so we can use it without quoting.
	dbName := fmt.Sprintf("netwatch_test_%d", time.Now().UnixNano())
	u.Path = "/" + dbName
	testURL := u.String()

	ctx := context.Background()
	adminConn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		t.Fatalf("connect admin: %v", err)
	}
	if _, err := adminConn.Exec(ctx, "CREATE DATABASE "+dbName); err != nil {
		adminConn.Close(ctx)
		t.Fatalf("create database: %v", err)
	}
	adminConn.Close(ctx)

	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conn, err := pgx.Connect(cleanupCtx, adminURL)
		if err != nil {
			return
		}
		defer conn.Close(cleanupCtx)
		_, _ = conn.Exec(cleanupCtx, "DROP DATABASE IF EXISTS "+dbName+" WITH (FORCE)")
	})

	st, err := Open(ctx, zerolog.Nop(), testURL)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func testSnapshot(devices ...model.Device) *model.NetworkSnapshot {
	snap := model.NewSnapshot(devices, model.SnapshotMetadata{
		ScanDuration: 3 * time.Second,
		ScanType:     model.ProfileDiscovery,
	})
	return &snap
}

func TestSnapshotRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Empty store.
	latest, err := st.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("get latest on empty store: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected nil latest, got %+v", latest)
	}

	snap := testSnapshot(model.Device{
		IP:       "10.0.0.1",
		Hostname: "gw",
		IsActive: true,
		Ports:    []model.Port{{Number: 22, Protocol: "tcp", State: model.PortOpen, Service: "ssh"}},
	})
	if err := st.CreateSnapshot(ctx, snap); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	// Duplicate id conflicts.
	if err := st.CreateSnapshot(ctx, snap); !model.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	got, err := st.GetSnapshot(ctx, snap.ID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if got.Checksum != snap.Checksum || got.DeviceCount != 1 || got.TotalPorts != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Devices[0].Hostname != "gw" || got.Devices[0].Ports[0].Service != "ssh" {
		t.Fatalf("device payload mismatch: %+v", got.Devices[0])
	}
	if got.Metadata.ScanType != model.ProfileDiscovery {
		t.Fatalf("metadata mismatch: %+v", got.Metadata)
	}

	if _, err := st.GetSnapshot(ctx, "b2c5ad27-0000-0000-0000-000000000000"); !model.IsNotFound(err) {
		t.Fatalf("expected not-found for unknown id, got %v", err)
	}
	if _, err := st.GetSnapshot(ctx, "not-a-uuid"); !model.IsNotFound(err) {
		t.Fatalf("expected not-found for malformed id, got %v", err)
	}
}

func TestGetLatestSnapshotOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	older := testSnapshot(model.Device{IP: "10.0.0.1"})
	older.Timestamp = time.Now().UTC().Add(-time.Hour)
	newer := testSnapshot(model.Device{IP: "10.0.0.2"})

	if err := st.CreateSnapshot(ctx, older); err != nil {
		t.Fatalf("create older: %v", err)
	}
	if err := st.CreateSnapshot(ctx, newer); err != nil {
		t.Fatalf("create newer: %v", err)
	}

	latest, err := st.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.ID != newer.ID {
		t.Fatalf("expected %q latest, got %q", newer.ID, latest.ID)
	}
}

func TestListSnapshotsFilterAndPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-3 * time.Hour)
	for i := 0; i < 3; i++ {
		snap := testSnapshot(model.Device{IP: fmt.Sprintf("10.0.0.%d", i+1)})
		snap.Timestamp = base.Add(time.Duration(i) * time.Hour)
		if err := st.CreateSnapshot(ctx, snap); err != nil {
			t.Fatalf("create snapshot %d: %v", i, err)
		}
	}

	page, err := st.ListSnapshots(ctx, store.SnapshotFilter{}, store.Page{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 3 || len(page.Snapshots) != 2 {
		t.Fatalf("expected total 3 page 2, got total %d page %d", page.Total, len(page.Snapshots))
	}
	// Newest first.
	if !page.Snapshots[0].Timestamp.After(page.Snapshots[1].Timestamp) {
		t.Fatalf("expected descending order")
	}

	page, err = st.ListSnapshots(ctx, store.SnapshotFilter{Since: base.Add(90 * time.Minute)}, store.Page{})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected 1 snapshot after since filter, got %d", page.Total)
	}

	page, err = st.ListSnapshots(ctx, store.SnapshotFilter{ScanType: model.ProfileComprehensive}, store.Page{})
	if err != nil {
		t.Fatalf("list by scan type: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("expected no comprehensive snapshots, got %d", page.Total)
	}
}

func TestCreateDiffIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	from := testSnapshot(model.Device{IP: "10.0.0.1"})
	to := testSnapshot(model.Device{IP: "10.0.0.1"}, model.Device{IP: "10.0.0.2"})
	if err := st.CreateSnapshot(ctx, from); err != nil {
		t.Fatalf("create from: %v", err)
	}
	if err := st.CreateSnapshot(ctx, to); err != nil {
		t.Fatalf("create to: %v", err)
	}

	mkDiff := func() *model.SnapshotDiff {
		return &model.SnapshotDiff{
			ID:           uuid.NewString(),
			FromSnapshot: from.ID,
			ToSnapshot:   to.ID,
			Timestamp:    time.Now().UTC(),
			Summary:      model.DiffSummary{DevicesAdded: 1, TotalChanges: 1},
			DeviceChanges: []model.DeviceDiff{{
				DeviceIP:   "10.0.0.2",
				ChangeType: model.ChangeDeviceJoined,
			}},
		}
	}

	if err := st.CreateDiff(ctx, mkDiff()); err != nil {
		t.Fatalf("create diff: %v", err)
	}
	// Same (from, to) pair again: silently absorbed.
	if err := st.CreateDiff(ctx, mkDiff()); err != nil {
		t.Fatalf("expected idempotent re-submission, got %v", err)
	}

	diffs, err := st.ListRecentDiffs(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list diffs: %v", err)
	}
	if len(diffs) != 1 {
		t.Fatalf("expected exactly 1 stored diff, got %d", len(diffs))
	}
	if diffs[0].Summary.DevicesAdded != 1 || len(diffs[0].DeviceChanges) != 1 {
		t.Fatalf("diff payload mismatch: %+v", diffs[0])
	}

	// Self-diff is rejected up front.
	bad := mkDiff()
	bad.ToSnapshot = bad.FromSnapshot
	if err := st.CreateDiff(ctx, bad); !model.IsValidation(err) {
		t.Fatalf("expected validation error for self diff, got %v", err)
	}
}

func TestDeleteSnapshotCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	from := testSnapshot(model.Device{IP: "10.0.0.1"})
	to := testSnapshot(model.Device{IP: "10.0.0.2"})
	if err := st.CreateSnapshot(ctx, from); err != nil {
		t.Fatalf("create from: %v", err)
	}
	if err := st.CreateSnapshot(ctx, to); err != nil {
		t.Fatalf("create to: %v", err)
	}
	d := &model.SnapshotDiff{
		ID:           uuid.NewString(),
		FromSnapshot: from.ID,
		ToSnapshot:   to.ID,
		Timestamp:    time.Now().UTC(),
	}
	if err := st.CreateDiff(ctx, d); err != nil {
		t.Fatalf("create diff: %v", err)
	}

	if err := st.DeleteSnapshot(ctx, from.ID); err != nil {
		t.Fatalf("delete snapshot: %v", err)
	}
	if err := st.DeleteSnapshot(ctx, from.ID); !model.IsNotFound(err) {
		t.Fatalf("expected not-found on second delete, got %v", err)
	}

	diffs, err := st.ListRecentDiffs(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("list diffs: %v", err)
	}
	if len(diffs) != 0 {
		t.Fatalf("expected cascading delete to remove diffs, got %d", len(diffs))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := testSnapshot(model.Device{IP: "10.0.0.1"})
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	recent := testSnapshot(model.Device{IP: "10.0.0.2"})
	if err := st.CreateSnapshot(ctx, old); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if err := st.CreateSnapshot(ctx, recent); err != nil {
		t.Fatalf("create recent: %v", err)
	}

	removed, err := st.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("retention sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := st.GetSnapshot(ctx, old.ID); !model.IsNotFound(err) {
		t.Fatalf("expected old snapshot gone, got %v", err)
	}
	if _, err := st.GetSnapshot(ctx, recent.ID); err != nil {
		t.Fatalf("expected recent snapshot kept, got %v", err)
	}
}
