// Package diff computes the delta between two network snapshots. The
// comparison is a pure function: no side effects, no clock or ID
// generation, and byte-identical output for identical inputs. Callers
// stamp ID and timestamp when a diff is persisted.
package diff

import (
	"fmt"
	"net/netip"
	"sort"

	"netwatch/core-go/internal/model"
)

// IdentityPolicy controls how a device is matched across snapshots when
// both its IP and MAC move at once. The schema keys devices by IP, so
// IP identity is the default; MAC identity additionally re-pairs a
// vanished IP with a joined IP carrying the same MAC.
type IdentityPolicy string

const (
	IdentityIP  IdentityPolicy = "ip"
	IdentityMAC IdentityPolicy = "mac"
)

// Options tunes the comparison. The zero value is valid and means IP
// identity.
type Options struct {
	Identity IdentityPolicy
}

// Compute compares from and to and returns the change-only delta.
// Devices present and unchanged in every dimension produce no entry.
// Output ordering is deterministic: device changes ascending by IP.
func Compute(from, to *model.NetworkSnapshot, opts Options) model.SnapshotDiff {
	d := model.SnapshotDiff{}
	if from != nil {
		d.FromSnapshot = from.ID
	}
	if to != nil {
		d.ToSnapshot = to.ID
	}

	var fromDevices, toDevices map[string]model.Device
	if from != nil {
		fromDevices = from.DeviceByIP()
	}
	if to != nil {
		toDevices = to.DeviceByIP()
	}

	var changes []model.DeviceDiff
	var summary model.DiffSummary

	for ip, dev := range toDevices {
		if _, ok := fromDevices[ip]; ok {
			continue
		}
		dev := dev
		changes = append(changes, model.DeviceDiff{
			DeviceIP:    ip,
			ChangeType:  model.ChangeDeviceJoined,
			DeviceAdded: &dev,
		})
		summary.DevicesAdded++
	}

	for ip, dev := range fromDevices {
		if _, ok := toDevices[ip]; ok {
			continue
		}
		dev := dev
		changes = append(changes, model.DeviceDiff{
			DeviceIP:      ip,
			ChangeType:    model.ChangeDeviceLeft,
			DeviceRemoved: &dev,
		})
		summary.DevicesRemoved++
	}

	for ip, before := range fromDevices {
		after, ok := toDevices[ip]
		if !ok {
			continue
		}
		dd, ports, services := compareDevice(before, after)
		if dd == nil {
			continue
		}
		changes = append(changes, *dd)
		summary.DevicesChanged++
		summary.PortsChanged += ports
		summary.ServicesChanged += services
	}

	if opts.Identity == IdentityMAC {
		changes = repairByMAC(changes, &summary)
	}

	sortDeviceChanges(changes)
	summary.Recompute()

	d.Summary = summary
	d.DeviceChanges = changes
	return d
}

// compareDevice returns nil when before and after are identical in
// every compared dimension.
func compareDevice(before, after model.Device) (*model.DeviceDiff, int, int) {
	portChanges := comparePorts(before.Ports, after.Ports)
	serviceChanges := compareServices(before.Services, after.Services)
	propChanges := compareProperties(before, after)

	if len(portChanges) == 0 && len(serviceChanges) == 0 && len(propChanges) == 0 {
		return nil, 0, 0
	}

	dd := &model.DeviceDiff{
		DeviceIP:        before.IP,
		ChangeType:      classifyDeviceChange(before, after, propChanges),
		PortChanges:     portChanges,
		ServiceChanges:  serviceChanges,
		PropertyChanges: propChanges,
	}
	return dd, len(portChanges), len(serviceChanges)
}

// classifyDeviceChange picks the most specific change type: a device
// going inactive wins, then an OS fingerprint change, then the generic
// device_changed.
func classifyDeviceChange(before, after model.Device, props []model.PropertyChange) model.ChangeType {
	if before.IsActive && !after.IsActive {
		return model.ChangeDeviceInactive
	}
	for _, p := range props {
		if p.Field == "os.name" || p.Field == "os.version" {
			return model.ChangeOSChanged
		}
	}
	return model.ChangeDeviceChanged
}

type portKey struct {
	number   int
	protocol string
}

func comparePorts(before, after []model.Port) []model.PortChange {
	bm := make(map[portKey]model.Port, len(before))
	for _, p := range before {
		bm[portKey{p.Number, p.Protocol}] = p
	}
	am := make(map[portKey]model.Port, len(after))
	for _, p := range after {
		am[portKey{p.Number, p.Protocol}] = p
	}

	var out []model.PortChange
	for k, p := range am {
		prev, ok := bm[k]
		if !ok {
			out = append(out, model.PortChange{
				Port:       k.number,
				Protocol:   k.protocol,
				ChangeType: "added",
				NewState:   p.State,
			})
			continue
		}
		if prev.State != p.State {
			out = append(out, model.PortChange{
				Port:       k.number,
				Protocol:   k.protocol,
				ChangeType: "state_changed",
				OldState:   prev.State,
				NewState:   p.State,
			})
		}
	}
	for k, p := range bm {
		if _, ok := am[k]; !ok {
			out = append(out, model.PortChange{
				Port:       k.number,
				Protocol:   k.protocol,
				ChangeType: "removed",
				OldState:   p.State,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Protocol < out[j].Protocol
	})
	return out
}

func compareServices(before, after []model.Service) []model.ServiceChange {
	bm := make(map[int]model.Service, len(before))
	for _, s := range before {
		bm[s.Port] = s
	}
	am := make(map[int]model.Service, len(after))
	for _, s := range after {
		am[s.Port] = s
	}

	var out []model.ServiceChange
	for port, s := range am {
		s := s
		prev, ok := bm[port]
		if !ok {
			out = append(out, model.ServiceChange{Port: port, ChangeType: "added", NewService: &s})
			continue
		}
		if prev != s {
			prev := prev
			out = append(out, model.ServiceChange{Port: port, ChangeType: "changed", OldService: &prev, NewService: &s})
		}
	}
	for port, s := range bm {
		if _, ok := am[port]; !ok {
			s := s
			out = append(out, model.ServiceChange{Port: port, ChangeType: "removed", OldService: &s})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// compareProperties covers the scalar fields. A MAC change with a
// stable IP is a property change, not a new device.
func compareProperties(before, after model.Device) []model.PropertyChange {
	var out []model.PropertyChange
	add := func(field, old, new string) {
		if old != new {
			out = append(out, model.PropertyChange{Field: field, OldValue: old, NewValue: new})
		}
	}
	add("mac", before.MAC, after.MAC)
	add("hostname", before.Hostname, after.Hostname)
	add("vendor", before.Vendor, after.Vendor)
	add("os.name", before.OS.Name, after.OS.Name)
	add("os.version", before.OS.Version, after.OS.Version)
	add("os.accuracy", fmt.Sprintf("%d", before.OS.Accuracy), fmt.Sprintf("%d", after.OS.Accuracy))
	add("risk_level", string(before.RiskLevel), string(after.RiskLevel))
	add("is_active", fmt.Sprintf("%t", before.IsActive), fmt.Sprintf("%t", after.IsActive))
	return out
}

// repairByMAC pairs a device_left with a device_joined that carries the
// same MAC and folds them into one device_changed entry keyed by the
// new IP, with the IP move recorded as a property change.
func repairByMAC(changes []model.DeviceDiff, summary *model.DiffSummary) []model.DeviceDiff {
	joinedByMAC := make(map[string]int)
	for i, c := range changes {
		if c.ChangeType == model.ChangeDeviceJoined && c.DeviceAdded != nil && c.DeviceAdded.MAC != "" {
			joinedByMAC[c.DeviceAdded.MAC] = i
		}
	}

	var out []model.DeviceDiff
	consumed := make(map[int]bool)
	for i, c := range changes {
		if c.ChangeType != model.ChangeDeviceLeft || c.DeviceRemoved == nil || c.DeviceRemoved.MAC == "" {
			continue
		}
		j, ok := joinedByMAC[c.DeviceRemoved.MAC]
		if !ok || consumed[j] {
			continue
		}
		consumed[i] = true
		consumed[j] = true

		before := *c.DeviceRemoved
		after := *changes[j].DeviceAdded
		dd, ports, services := compareDevice(before, after)
		if dd == nil {
			dd = &model.DeviceDiff{ChangeType: model.ChangeDeviceChanged}
		}
		dd.DeviceIP = after.IP
		dd.PropertyChanges = append([]model.PropertyChange{{
			Field:    "ip",
			OldValue: before.IP,
			NewValue: after.IP,
		}}, dd.PropertyChanges...)

		summary.DevicesAdded--
		summary.DevicesRemoved--
		summary.DevicesChanged++
		summary.PortsChanged += ports
		summary.ServicesChanged += services

		out = append(out, *dd)
	}
	if len(out) == 0 {
		return changes
	}

	kept := make([]model.DeviceDiff, 0, len(changes))
	for i, c := range changes {
		if !consumed[i] {
			kept = append(kept, c)
		}
	}
	return append(kept, out...)
}

func sortDeviceChanges(changes []model.DeviceDiff) {
	sort.Slice(changes, func(i, j int) bool {
		return lessIP(changes[i].DeviceIP, changes[j].DeviceIP)
	})
}

// lessIP orders addresses numerically when both parse, falling back to
// string order so malformed input still sorts deterministically.
func lessIP(a, b string) bool {
	aa, errA := netip.ParseAddr(a)
	bb, errB := netip.ParseAddr(b)
	if errA == nil && errB == nil {
		return aa.Less(bb)
	}
	return a < b
}
