// Package model holds the domain types shared across the scanner,
// scheduler, diff engine and store: devices as observed by a scan,
// immutable point-in-time snapshots of the network, and the computed
// deltas between two snapshots.
package model

import (
	"time"
)

// PortState is the observed state of a single port.
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered"
)

// RiskLevel is a coarse per-device exposure classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ScanProfile selects scan depth/speed.
type ScanProfile string

const (
	ProfileQuick         ScanProfile = "quick"
	ProfileDiscovery     ScanProfile = "discovery"
	ProfileComprehensive ScanProfile = "comprehensive"
)

// ValidProfile reports whether p names a known scan profile.
func ValidProfile(p ScanProfile) bool {
	switch p {
	case ProfileQuick, ProfileDiscovery, ProfileComprehensive:
		return true
	}
	return false
}

// Port is one (number, protocol) observation on a device. The pair is
// unique within a device.
type Port struct {
	Number   int       `json:"number"`
	Protocol string    `json:"protocol"`
	State    PortState `json:"state"`
	Service  string    `json:"service,omitempty"`
	Banner   string    `json:"banner,omitempty"`
}

// Service is a identified service bound to a port.
type Service struct {
	Port       int     `json:"port"`
	Name       string  `json:"name"`
	Product    string  `json:"product,omitempty"`
	Version    string  `json:"version,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// OSInfo is the scanner's OS fingerprint for a device.
type OSInfo struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Accuracy int    `json:"accuracy,omitempty"`
}

// Device is a single host observed in one snapshot. IP is the identity
// key and is unique within a snapshot.
type Device struct {
	IP        string    `json:"ip"`
	MAC       string    `json:"mac,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	Vendor    string    `json:"vendor,omitempty"`
	OS        OSInfo    `json:"os,omitempty"`
	Ports     []Port    `json:"ports,omitempty"`
	Services  []Service `json:"services,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
	IsActive  bool      `json:"is_active"`
	RiskLevel RiskLevel `json:"risk_level,omitempty"`
}

// SnapshotMetadata records how a snapshot was produced.
type SnapshotMetadata struct {
	ScanDuration time.Duration `json:"scan_duration"`
	ScanType     ScanProfile   `json:"scan_type"`
	Errors       []string      `json:"errors,omitempty"`
}

// NetworkSnapshot is an immutable record of all devices discovered at
// one point in time. Use NewSnapshot to construct one; the checksum and
// derived counts are computed exactly once, and the snapshot must not
// be mutated afterwards.
type NetworkSnapshot struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	DeviceCount int              `json:"device_count"`
	TotalPorts  int              `json:"total_ports"`
	Checksum    string           `json:"checksum"`
	Devices     []Device         `json:"devices"`
	Metadata    SnapshotMetadata `json:"metadata"`
}

// DeviceByIP builds the IP-keyed index the diff engine works from.
func (s *NetworkSnapshot) DeviceByIP() map[string]Device {
	out := make(map[string]Device, len(s.Devices))
	for _, d := range s.Devices {
		out[d.IP] = d
	}
	return out
}
