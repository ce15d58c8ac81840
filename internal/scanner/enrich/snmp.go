package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// SNMPConfig tunes the v2c system-info probe.
type SNMPConfig struct {
	Community string
	Version   string // "2c" (default) | "1"
	Port      uint16
	Timeout   time.Duration
	Retries   int
}

// SystemInfo is the subset of the MIB-2 system group we use.
type SystemInfo struct {
	SysName  string
	SysDescr string
}

type SNMPClient struct {
	cfg SNMPConfig
}

func NewSNMPClient(cfg SNMPConfig) *SNMPClient {
	if strings.TrimSpace(cfg.Community) == "" {
		cfg.Community = "public"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "2c"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &SNMPClient{cfg: cfg}
}

const (
	oidSysDescr0 = "1.3.6.1.2.1.1.1.0"
	oidSysName0  = "1.3.6.1.2.1.1.5.0"
)

// SystemInfo queries sysDescr.0 and sysName.0 from address.
func (c *SNMPClient) SystemInfo(ctx context.Context, address string) (SystemInfo, error) {
	version := gosnmp.Version2c
	if v := strings.ToLower(strings.TrimSpace(c.cfg.Version)); v == "1" || v == "v1" {
		version = gosnmp.Version1
	}

	s := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    address,
		Port:      c.cfg.Port,
		Community: c.cfg.Community,
		Version:   version,
		Timeout:   c.cfg.Timeout,
		Retries:   c.cfg.Retries,
	}
	if err := s.Connect(); err != nil {
		return SystemInfo{}, err
	}
	defer func() { _ = s.Conn.Close() }()

	pkt, err := s.Get([]string{oidSysDescr0, oidSysName0})
	if err != nil {
		return SystemInfo{}, err
	}

	var info SystemInfo
	for _, pdu := range pkt.Variables {
		val := pduString(pdu)
		switch pdu.Name {
		case "." + oidSysDescr0, oidSysDescr0:
			info.SysDescr = val
		case "." + oidSysName0, oidSysName0:
			info.SysName = val
		}
	}
	return info, nil
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	default:
		return ""
	}
}

// guessVendor extracts a vendor name from sysDescr when the MAC-based
// vendor is missing.
func guessVendor(sysDescr string) string {
	lower := strings.ToLower(sysDescr)
	for _, vendor := range []string{"cisco", "juniper", "mikrotik", "ubiquiti", "hewlett", "netgear", "synology", "qnap", "aruba", "fortinet"} {
		if strings.Contains(lower, vendor) {
			return vendor
		}
	}
	return ""
}

// guessOS extracts a coarse OS family from sysDescr.
func guessOS(sysDescr string) string {
	lower := strings.ToLower(sysDescr)
	switch {
	case strings.Contains(lower, "linux"):
		return "linux"
	case strings.Contains(lower, "windows"):
		return "windows"
	case strings.Contains(lower, "ios"), strings.Contains(lower, "nx-os"):
		return "cisco-ios"
	case strings.Contains(lower, "routeros"):
		return "routeros"
	case strings.Contains(lower, "bsd"):
		return "bsd"
	default:
		return ""
	}
}
