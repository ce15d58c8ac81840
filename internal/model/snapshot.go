package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// NewSnapshot assembles an immutable snapshot from a scanned device
// list. Devices are sorted by IP, derived counts are filled in and the
// content checksum is computed once here.
func NewSnapshot(devices []Device, meta SnapshotMetadata) NetworkSnapshot {
	sorted := make([]Device, len(devices))
	copy(sorted, devices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].IP < sorted[j].IP })

	totalPorts := 0
	for i := range sorted {
		sortDevice(&sorted[i])
		totalPorts += len(sorted[i].Ports)
	}

	return NetworkSnapshot{
		ID:          uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		DeviceCount: len(sorted),
		TotalPorts:  totalPorts,
		Checksum:    checksumDevices(sorted),
		Devices:     sorted,
		Metadata:    meta,
	}
}

func sortDevice(d *Device) {
	sort.Slice(d.Ports, func(i, j int) bool {
		if d.Ports[i].Number != d.Ports[j].Number {
			return d.Ports[i].Number < d.Ports[j].Number
		}
		return d.Ports[i].Protocol < d.Ports[j].Protocol
	})
	sort.Slice(d.Services, func(i, j int) bool { return d.Services[i].Port < d.Services[j].Port })
}

// checksumDevices hashes the canonical (sorted) JSON encoding of the
// device list. LastSeen is volatile per scan and intentionally part of
// the content: two scans observing the same network at different times
// are still distinct snapshots.
func checksumDevices(devices []Device) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, d := range devices {
		// Encode never fails for these types.
		_ = enc.Encode(d)
	}
	return hex.EncodeToString(h.Sum(nil))
}
