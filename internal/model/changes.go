package model

import "time"

// ChangeType classifies one observed change between two snapshots.
type ChangeType string

const (
	ChangeDeviceJoined   ChangeType = "device_joined"
	ChangeDeviceLeft     ChangeType = "device_left"
	ChangeDeviceChanged  ChangeType = "device_changed"
	ChangeDeviceInactive ChangeType = "device_inactive"
	ChangePortOpened     ChangeType = "port_opened"
	ChangePortClosed     ChangeType = "port_closed"
	ChangeServiceChanged ChangeType = "service_changed"
	ChangeOSChanged      ChangeType = "os_changed"
)

// PortChange is one port-level delta on a device present in both
// snapshots.
type PortChange struct {
	Port       int       `json:"port"`
	Protocol   string    `json:"protocol"`
	ChangeType string    `json:"change_type"` // "added" | "removed" | "state_changed"
	OldState   PortState `json:"old_state,omitempty"`
	NewState   PortState `json:"new_state,omitempty"`
}

// ServiceChange is one service-level delta keyed by port.
type ServiceChange struct {
	Port       int      `json:"port"`
	ChangeType string   `json:"change_type"` // "added" | "removed" | "changed"
	OldService *Service `json:"old_service,omitempty"`
	NewService *Service `json:"new_service,omitempty"`
}

// PropertyChange is a scalar field delta on a device.
type PropertyChange struct {
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// DeviceDiff aggregates every change observed for one device IP.
type DeviceDiff struct {
	DeviceIP        string           `json:"device_ip"`
	ChangeType      ChangeType       `json:"change_type"`
	DeviceAdded     *Device          `json:"device_added,omitempty"`
	DeviceRemoved   *Device          `json:"device_removed,omitempty"`
	PortChanges     []PortChange     `json:"port_changes,omitempty"`
	ServiceChanges  []ServiceChange  `json:"service_changes,omitempty"`
	PropertyChanges []PropertyChange `json:"property_changes,omitempty"`
}

// DiffSummary carries the per-dimension change counters. TotalChanges
// is always the sum of the other five and is recomputed, never taken
// from input.
type DiffSummary struct {
	DevicesAdded    int `json:"devices_added"`
	DevicesRemoved  int `json:"devices_removed"`
	DevicesChanged  int `json:"devices_changed"`
	PortsChanged    int `json:"ports_changed"`
	ServicesChanged int `json:"services_changed"`
	TotalChanges    int `json:"total_changes"`
}

// Recompute derives TotalChanges from the other counters.
func (s *DiffSummary) Recompute() {
	s.TotalChanges = s.DevicesAdded + s.DevicesRemoved + s.DevicesChanged + s.PortsChanged + s.ServicesChanged
}

// SnapshotDiff is the computed delta between two snapshots, created
// exactly once per ordered (from, to) pair.
type SnapshotDiff struct {
	ID            string       `json:"id"`
	FromSnapshot  string       `json:"from_snapshot"`
	ToSnapshot    string       `json:"to_snapshot"`
	Timestamp     time.Time    `json:"timestamp"`
	Summary       DiffSummary  `json:"summary"`
	DeviceChanges []DeviceDiff `json:"device_changes,omitempty"`
}
