// Package scanner defines the adapter boundary to the external scan
// tool and its nmap implementation. An adapter executes one scan
// against one target and returns the normalized device list; it has no
// knowledge of scheduling, persistence or diffing.
package scanner

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"netwatch/core-go/internal/model"
)

// Adapter executes a single scan. Implementations must honor ctx
// cancellation and the timeout, and must return devices sorted-safe
// input for model.NewSnapshot (no duplicate IPs).
type Adapter interface {
	Scan(ctx context.Context, target string, profile model.ScanProfile, timeout time.Duration) ([]model.Device, error)
}

// ScanError is a scan-tool failure or timeout. The scheduler retries it
// per its policy; it is never surfaced to an unrelated caller.
type ScanError struct {
	Target  string
	Profile model.ScanProfile
	Err     error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s (%s): %v", e.Target, e.Profile, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// ValidateTarget accepts a CIDR prefix, a single IP, or a dashed IPv4
// range ("10.0.0.1-10.0.0.50").
func ValidateTarget(target string) error {
	s := strings.TrimSpace(target)
	if s == "" {
		return &model.ValidationError{Field: "range", Reason: "empty target"}
	}
	if _, err := netip.ParsePrefix(s); err == nil {
		return nil
	}
	if _, err := netip.ParseAddr(s); err == nil {
		return nil
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		a, errA := netip.ParseAddr(strings.TrimSpace(lo))
		b, errB := netip.ParseAddr(strings.TrimSpace(hi))
		if errA == nil && errB == nil && a.Is4() && b.Is4() && !b.Less(a) {
			return nil
		}
	}
	return &model.ValidationError{Field: "range", Reason: fmt.Sprintf("not a CIDR, IP or range: %q", s)}
}
