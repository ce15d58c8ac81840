package scanner

import "netwatch/core-go/internal/model"

// Port-based exposure classes. Thresholds follow common scanner
// conventions: remote-control and database planes weigh heaviest.
var (
	criticalPorts = map[int]struct{}{
		23:   {}, // telnet
		445:  {}, // smb
		3389: {}, // rdp
		5900: {}, // vnc
	}
	highPorts = map[int]struct{}{
		21:   {}, // ftp
		135:  {},
		139:  {},
		1433: {},
		3306: {},
		5432: {},
		6379: {},
	}
)

// ClassifyRisk assigns a coarse risk level from the device's open
// ports.
func ClassifyRisk(d model.Device) model.RiskLevel {
	open := 0
	level := model.RiskLow
	for _, p := range d.Ports {
		if p.State != model.PortOpen {
			continue
		}
		open++
		if _, ok := criticalPorts[p.Number]; ok {
			return model.RiskCritical
		}
		if _, ok := highPorts[p.Number]; ok {
			level = model.RiskHigh
		}
	}
	if level == model.RiskLow && open > 5 {
		level = model.RiskMedium
	}
	return level
}
