package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/store"
)

const defaultPageLimit = 50

const insertSnapshot = `-- name: InsertSnapshot :exec
INSERT INTO snapshots (id, created_at, device_count, total_ports, checksum, metadata, devices)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

func (s *Store) CreateSnapshot(ctx context.Context, snap *model.NetworkSnapshot) error {
	if snap == nil || snap.ID == "" {
		return &model.ValidationError{Field: "snapshot", Reason: "missing id"}
	}

	metadata, err := json.Marshal(snap.Metadata)
	if err != nil {
		return &model.ValidationError{Field: "metadata", Reason: err.Error()}
	}
	devices, err := json.Marshal(snap.Devices)
	if err != nil {
		return &model.ValidationError{Field: "devices", Reason: err.Error()}
	}

	_, err = s.db.Exec(ctx, insertSnapshot,
		snap.ID, snap.Timestamp, snap.DeviceCount, snap.TotalPorts, snap.Checksum, metadata, devices)
	if err != nil {
		if isUniqueViolation(err) {
			return &model.ConflictError{Kind: "snapshot", Key: snap.ID}
		}
		return infraErr("insert snapshot", err)
	}
	return nil
}

const getSnapshot = `-- name: GetSnapshot :one
SELECT id, created_at, device_count, total_ports, checksum, metadata, devices
FROM snapshots
WHERE id = $1
`

func (s *Store) GetSnapshot(ctx context.Context, id string) (*model.NetworkSnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx, getSnapshot, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, &model.NotFoundError{Kind: "snapshot", ID: id}
		}
		return nil, infraErr("get snapshot", err)
	}
	return snap, nil
}

const getLatestSnapshot = `-- name: GetLatestSnapshot :one
SELECT id, created_at, device_count, total_ports, checksum, metadata, devices
FROM snapshots
ORDER BY created_at DESC, id DESC
LIMIT 1
`

func (s *Store) GetLatestSnapshot(ctx context.Context) (*model.NetworkSnapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRow(ctx, getLatestSnapshot))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, infraErr("get latest snapshot", err)
	}
	return snap, nil
}

const listSnapshots = `-- name: ListSnapshots :many
SELECT id, created_at, device_count, total_ports, checksum, metadata, devices,
       COUNT(*) OVER () AS total
FROM snapshots
WHERE ($1::timestamptz IS NULL OR created_at >= $1)
  AND ($2::timestamptz IS NULL OR created_at <= $2)
  AND ($3::text IS NULL OR metadata->>'scan_type' = $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5
`

func (s *Store) ListSnapshots(ctx context.Context, filter store.SnapshotFilter, page store.Page) (store.SnapshotPage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	var since, until *time.Time
	if !filter.Since.IsZero() {
		since = &filter.Since
	}
	if !filter.Until.IsZero() {
		until = &filter.Until
	}
	var scanType *string
	if filter.ScanType != "" {
		v := string(filter.ScanType)
		scanType = &v
	}

	rows, err := s.db.Query(ctx, listSnapshots, since, until, scanType, limit, offset)
	if err != nil {
		return store.SnapshotPage{}, infraErr("list snapshots", err)
	}
	defer rows.Close()

	var out store.SnapshotPage
	for rows.Next() {
		var (
			snap          model.NetworkSnapshot
			metadataBytes []byte
			devicesBytes  []byte
			total         int
		)
		if err := rows.Scan(&snap.ID, &snap.Timestamp, &snap.DeviceCount, &snap.TotalPorts,
			&snap.Checksum, &metadataBytes, &devicesBytes, &total); err != nil {
			return store.SnapshotPage{}, infraErr("list snapshots", err)
		}
		if err := decodeSnapshotJSON(&snap, metadataBytes, devicesBytes); err != nil {
			return store.SnapshotPage{}, err
		}
		out.Total = total
		out.Snapshots = append(out.Snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return store.SnapshotPage{}, infraErr("list snapshots", err)
	}
	return out, nil
}

const insertDiff = `-- name: InsertDiff :execrows
INSERT INTO snapshot_diffs (
	id, from_id, to_id, created_at,
	devices_added, devices_removed, devices_changed,
	ports_changed, services_changed, total_changes, payload
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (from_id, to_id) DO NOTHING
`

func (s *Store) CreateDiff(ctx context.Context, d *model.SnapshotDiff) error {
	if d == nil || d.ID == "" {
		return &model.ValidationError{Field: "diff", Reason: "missing id"}
	}
	if d.FromSnapshot == d.ToSnapshot {
		return &model.ValidationError{Field: "diff", Reason: "from and to snapshots must differ"}
	}

	payload, err := json.Marshal(d.DeviceChanges)
	if err != nil {
		return &model.ValidationError{Field: "device_changes", Reason: err.Error()}
	}

	tag, err := s.db.Exec(ctx, insertDiff,
		d.ID, d.FromSnapshot, d.ToSnapshot, d.Timestamp,
		d.Summary.DevicesAdded, d.Summary.DevicesRemoved, d.Summary.DevicesChanged,
		d.Summary.PortsChanged, d.Summary.ServicesChanged, d.Summary.TotalChanges, payload)
	if err != nil {
		return infraErr("insert diff", err)
	}
	if tag.RowsAffected() == 0 {
		// Duplicate (from, to) pair: idempotent no-op.
		s.log.Debug().Str("from", d.FromSnapshot).Str("to", d.ToSnapshot).Msg("diff already persisted")
	}
	return nil
}

const listRecentDiffs = `-- name: ListRecentDiffs :many
SELECT id, from_id, to_id, created_at,
       devices_added, devices_removed, devices_changed,
       ports_changed, services_changed, total_changes, payload
FROM snapshot_diffs
WHERE created_at >= $1
ORDER BY created_at DESC, id DESC
`

func (s *Store) ListRecentDiffs(ctx context.Context, since time.Time) ([]model.SnapshotDiff, error) {
	rows, err := s.db.Query(ctx, listRecentDiffs, since)
	if err != nil {
		return nil, infraErr("list recent diffs", err)
	}
	defer rows.Close()

	var out []model.SnapshotDiff
	for rows.Next() {
		var (
			d       model.SnapshotDiff
			payload []byte
		)
		if err := rows.Scan(&d.ID, &d.FromSnapshot, &d.ToSnapshot, &d.Timestamp,
			&d.Summary.DevicesAdded, &d.Summary.DevicesRemoved, &d.Summary.DevicesChanged,
			&d.Summary.PortsChanged, &d.Summary.ServicesChanged, &d.Summary.TotalChanges,
			&payload); err != nil {
			return nil, infraErr("list recent diffs", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &d.DeviceChanges); err != nil {
				return nil, &model.InfrastructureError{Op: "decode diff payload", Err: err}
			}
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, infraErr("list recent diffs", err)
	}
	return out, nil
}

const deleteSnapshot = `-- name: DeleteSnapshot :execrows
DELETE FROM snapshots WHERE id = $1
`

func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, deleteSnapshot, id)
	if err != nil {
		if isInvalidUUID(err) {
			return &model.NotFoundError{Kind: "snapshot", ID: id}
		}
		return infraErr("delete snapshot", err)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "snapshot", ID: id}
	}
	return nil
}

const deleteOlderThan = `-- name: DeleteOlderThan :execrows
DELETE FROM snapshots WHERE created_at < $1
`

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteOlderThan, cutoff)
	if err != nil {
		return 0, infraErr("retention sweep", err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshot(row pgx.Row) (*model.NetworkSnapshot, error) {
	var (
		snap          model.NetworkSnapshot
		metadataBytes []byte
		devicesBytes  []byte
	)
	if err := row.Scan(&snap.ID, &snap.Timestamp, &snap.DeviceCount, &snap.TotalPorts,
		&snap.Checksum, &metadataBytes, &devicesBytes); err != nil {
		return nil, err
	}
	if err := decodeSnapshotJSON(&snap, metadataBytes, devicesBytes); err != nil {
		return nil, err
	}
	return &snap, nil
}

func decodeSnapshotJSON(snap *model.NetworkSnapshot, metadata, devices []byte) error {
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &snap.Metadata); err != nil {
			return &model.InfrastructureError{Op: "decode snapshot metadata", Err: err}
		}
	}
	if len(devices) > 0 {
		if err := json.Unmarshal(devices, &snap.Devices); err != nil {
			return &model.InfrastructureError{Op: "decode snapshot devices", Err: err}
		}
	}
	return nil
}
