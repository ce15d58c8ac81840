package scanner

import (
	"strings"
	"time"

	"netwatch/core-go/internal/model"
)

// profileSettings is the concrete knob set a profile expands to.
type profileSettings struct {
	Ports            string
	ServiceDetection bool
	OSDetection      bool
	SkipHostPing     bool
	Enrich           bool
	DefaultTimeout   time.Duration
}

// CanonicalProfile normalizes free-form profile input, defaulting to
// discovery.
func CanonicalProfile(value string) model.ScanProfile {
	s := strings.ToLower(strings.TrimSpace(value))
	switch model.ScanProfile(s) {
	case model.ProfileQuick, model.ProfileDiscovery, model.ProfileComprehensive:
		return model.ScanProfile(s)
	default:
		return model.ProfileDiscovery
	}
}

// DefaultTimeout is the per-scan deadline a profile gets when the
// caller sets none.
func DefaultTimeout(profile model.ScanProfile) time.Duration {
	return settingsFor(profile).DefaultTimeout
}

func settingsFor(profile model.ScanProfile) profileSettings {
	switch profile {
	case model.ProfileQuick:
		return profileSettings{
			Ports:          "22,80,443,445,3389,8080",
			DefaultTimeout: 2 * time.Minute,
		}
	case model.ProfileComprehensive:
		return profileSettings{
			Ports:            "1-1024,1433,3306,3389,5432,5900,6443,8080,8443,9090,9100",
			ServiceDetection: true,
			OSDetection:      true,
			SkipHostPing:     true,
			Enrich:           true,
			DefaultTimeout:   30 * time.Minute,
		}
	default: // discovery
		return profileSettings{
			Ports:            "21-23,25,53,80,110,135,139,143,443,445,993,995,1723,3306,3389,5432,5900,8080,8443",
			ServiceDetection: true,
			DefaultTimeout:   10 * time.Minute,
		}
	}
}
