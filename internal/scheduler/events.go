package scheduler

import (
	"netwatch/core-go/internal/model"
)

// EventType tags scheduler output events.
type EventType string

const (
	EventSnapshotProduced EventType = "snapshot_produced"
	EventScanFailed       EventType = "scan_failed"
)

// Event is one scheduler outcome. Snapshot is set for
// EventSnapshotProduced, Err for EventScanFailed.
type Event struct {
	Type     EventType
	JobID    string
	Target   string
	Profile  model.ScanProfile
	Attempts int
	Snapshot *model.NetworkSnapshot
	Err      error
}
