package enrich

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers PTR queries against one configured DNS server.
// When no server is configured it falls back to the system resolver.
type Resolver struct {
	server  string
	timeout time.Duration
	client  *dns.Client
}

func NewResolver(server string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	server = strings.TrimSpace(server)
	if server != "" && !strings.Contains(server, ":") {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{
		server:  server,
		timeout: timeout,
		client:  &dns.Client{Timeout: timeout},
	}
}

// ReverseLookup returns the first PTR name for ip, without the trailing
// dot, or "" when nothing resolves.
func (r *Resolver) ReverseLookup(ctx context.Context, ip string) (string, error) {
	if r.server == "" {
		return r.systemLookup(ctx, ip)
	}

	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}

	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return "", err
	}
	for _, ans := range resp.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			name := strings.TrimSuffix(ptr.Ptr, ".")
			if name != "" {
				return name, nil
			}
		}
	}
	return "", nil
}

func (r *Resolver) systemLookup(ctx context.Context, ip string) (string, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(lookupCtx, ip)
	if err != nil || len(names) == 0 {
		return "", err
	}
	return strings.TrimSuffix(names[0], "."), nil
}
