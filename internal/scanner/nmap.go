package scanner

import (
	"context"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"

	"netwatch/core-go/internal/model"
	"netwatch/core-go/internal/scanner/enrich"
)

// Nmap runs scans through the nmap binary. The zero value is not
// usable; construct with NewNmap.
type Nmap struct {
	log      zerolog.Logger
	enricher *enrich.Enricher
}

// NewNmap builds the nmap adapter. enricher may be nil to disable
// post-scan enrichment.
func NewNmap(log zerolog.Logger, enricher *enrich.Enricher) *Nmap {
	return &Nmap{log: log, enricher: enricher}
}

// Scan executes one nmap run against target with the given profile.
// The returned devices are normalized: one entry per IP, ports and
// services extracted, risk level assigned.
func (n *Nmap) Scan(ctx context.Context, target string, profile model.ScanProfile, timeout time.Duration) ([]model.Device, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}

	settings := settingsFor(profile)
	if timeout <= 0 {
		timeout = settings.DefaultTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []nmap.Option{
		nmap.WithTargets(target),
		nmap.WithPorts(settings.Ports),
	}
	if settings.ServiceDetection {
		opts = append(opts, nmap.WithServiceInfo())
	}
	if settings.OSDetection {
		opts = append(opts, nmap.WithOSDetection())
	}
	if settings.SkipHostPing {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	sc, err := nmap.NewScanner(scanCtx, opts...)
	if err != nil {
		return nil, &ScanError{Target: target, Profile: profile, Err: err}
	}

	start := time.Now()
	run, warnings, err := sc.Run()
	if err != nil {
		return nil, &ScanError{Target: target, Profile: profile, Err: err}
	}
	if warnings != nil && len(*warnings) > 0 {
		n.log.Debug().Strs("warnings", *warnings).Str("target", target).Msg("nmap warnings")
	}

	devices := convertRun(run)
	n.log.Info().
		Str("target", target).
		Str("profile", string(profile)).
		Int("devices", len(devices)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("scan completed")

	if settings.Enrich && n.enricher != nil {
		n.enricher.Enrich(ctx, devices)
	}
	return devices, nil
}

func convertRun(run *nmap.Run) []model.Device {
	if run == nil {
		return nil
	}

	now := time.Now().UTC()
	devices := make([]model.Device, 0, len(run.Hosts))
	seen := make(map[string]struct{}, len(run.Hosts))

	for _, host := range run.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}

		var ip, mac, vendor string
		for _, addr := range host.Addresses {
			switch addr.AddrType {
			case "ipv4", "ipv6":
				if ip == "" {
					ip = addr.Addr
				}
			case "mac":
				mac = strings.ToLower(addr.Addr)
				vendor = addr.Vendor
			}
		}
		if ip == "" {
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}

		d := model.Device{
			IP:       ip,
			MAC:      mac,
			Vendor:   vendor,
			LastSeen: now,
			IsActive: true,
		}
		if len(host.Hostnames) > 0 {
			d.Hostname = host.Hostnames[0].Name
		}
		if len(host.OS.Matches) > 0 {
			best := host.OS.Matches[0]
			d.OS = model.OSInfo{Name: best.Name, Accuracy: best.Accuracy}
			if len(best.Classes) > 0 {
				d.OS.Version = best.Classes[0].OSGeneration
			}
		}

		for _, p := range host.Ports {
			state := normalizePortState(p.State.State)
			if state == "" {
				continue
			}
			d.Ports = append(d.Ports, model.Port{
				Number:   int(p.ID),
				Protocol: strings.ToLower(p.Protocol),
				State:    state,
				Service:  p.Service.Name,
			})
			if state == model.PortOpen && p.Service.Name != "" {
				d.Services = append(d.Services, model.Service{
					Port:       int(p.ID),
					Name:       p.Service.Name,
					Product:    p.Service.Product,
					Version:    p.Service.Version,
					Confidence: float64(p.Service.Confidence) / 10.0,
				})
			}
		}

		d.RiskLevel = ClassifyRisk(d)
		devices = append(devices, d)
	}

	return devices
}

func normalizePortState(state string) model.PortState {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open":
		return model.PortOpen
	case "closed":
		return model.PortClosed
	case "filtered", "open|filtered", "closed|filtered":
		return model.PortFiltered
	default:
		return ""
	}
}
