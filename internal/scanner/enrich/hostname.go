package enrich

import "strings"

// HostnameCandidate is one possible friendly name for a device, tagged
// with where it came from.
type HostnameCandidate struct {
	Name   string
	Source string // "scan" | "reverse_dns" | "snmp"
}

// Source trust order. SNMP sysName is self-reported by the device and
// wins; reverse DNS reflects the resolver's zone; the scan's own
// hostname field is weakest.
var sourceScore = map[string]int{
	"snmp":        100,
	"reverse_dns": 80,
	"scan":        60,
}

// ChooseHostname picks the best candidate after normalization. Names
// that look like synthesized PTR records ("ip-10-0-0-1", "10-0-0-1")
// are penalized below the acceptance bar.
func ChooseHostname(candidates []HostnameCandidate) (string, bool) {
	bestScore := -1
	best := ""
	for _, c := range candidates {
		name := normalizeHostname(c.Name)
		if name == "" {
			continue
		}
		score := sourceScore[c.Source]
		if score == 0 {
			score = 10
		}
		if looksSynthesized(name) {
			score -= 60
		}
		if score > bestScore {
			bestScore = score
			best = name
		}
	}
	if bestScore < 50 || best == "" {
		return "", false
	}
	return best, true
}

func normalizeHostname(raw string) string {
	name := strings.TrimSpace(strings.TrimSuffix(raw, "."))
	if name == "" {
		return ""
	}
	// Short form: strip the domain when the label is unambiguous.
	if strings.Contains(name, ".") && !strings.ContainsAny(name, " \t") {
		if first, _, ok := strings.Cut(name, "."); ok && first != "" {
			name = first
		}
	}
	return strings.ToLower(name)
}

func looksSynthesized(name string) bool {
	trimmed := strings.TrimPrefix(name, "ip-")
	trimmed = strings.ReplaceAll(trimmed, "-", "")
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(trimmed) > 0
}
