// Package enrich decorates scanned devices with facts the port scan
// itself cannot see: reverse-DNS hostnames and SNMP system info.
// Enrichment is best effort; failures never fail the scan.
package enrich

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"netwatch/core-go/internal/model"
)

type Options struct {
	MaxTargets  int
	WorkerCount int
	DNSServer   string
	DNSTimeout  time.Duration
	SNMPEnabled bool
	SNMPConfig  SNMPConfig
}

type Enricher struct {
	log         zerolog.Logger
	resolver    *Resolver
	snmp        *SNMPClient
	maxTargets  int
	workerCount int
}

// New builds an enricher. A resolver is always constructed; the SNMP
// client only when enabled.
func New(log zerolog.Logger, opts Options) *Enricher {
	maxTargets := opts.MaxTargets
	if maxTargets <= 0 {
		maxTargets = 64
	}
	workerCount := opts.WorkerCount
	if workerCount <= 0 {
		workerCount = 8
	}

	e := &Enricher{
		log:         log,
		resolver:    NewResolver(opts.DNSServer, opts.DNSTimeout),
		maxTargets:  maxTargets,
		workerCount: workerCount,
	}
	if opts.SNMPEnabled {
		e.snmp = NewSNMPClient(opts.SNMPConfig)
	}
	return e
}

// Enrich mutates devices in place. Bounded fan-out mirrors the scan
// worker pools: a jobs channel, fixed workers, atomic counters.
func (e *Enricher) Enrich(ctx context.Context, devices []model.Device) {
	if e == nil || len(devices) == 0 {
		return
	}

	limit := len(devices)
	if e.maxTargets > 0 && limit > e.maxTargets {
		limit = e.maxTargets
	}

	var namesWritten, snmpOK int32

	jobs := make(chan int)
	wg := sync.WaitGroup{}

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			if ctx.Err() != nil {
				return
			}
			d := &devices[i]

			candidates := []HostnameCandidate{}
			if d.Hostname != "" {
				candidates = append(candidates, HostnameCandidate{Name: d.Hostname, Source: "scan"})
			}
			if name, err := e.resolver.ReverseLookup(ctx, d.IP); err == nil && name != "" {
				candidates = append(candidates, HostnameCandidate{Name: name, Source: "reverse_dns"})
			}

			if e.snmp != nil {
				if info, err := e.snmp.SystemInfo(ctx, d.IP); err == nil {
					atomic.AddInt32(&snmpOK, 1)
					if info.SysName != "" {
						candidates = append(candidates, HostnameCandidate{Name: info.SysName, Source: "snmp"})
					}
					if d.Vendor == "" {
						d.Vendor = guessVendor(info.SysDescr)
					}
					if d.OS.Name == "" {
						d.OS.Name = guessOS(info.SysDescr)
					}
				}
			}

			if best, ok := ChooseHostname(candidates); ok && best != d.Hostname {
				d.Hostname = best
				atomic.AddInt32(&namesWritten, 1)
			}
		}
	}

	for i := 0; i < e.workerCount; i++ {
		wg.Add(1)
		go worker()
	}

	for i := 0; i < limit; i++ {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	e.log.Debug().
		Int("targets", limit).
		Int32("names_written", namesWritten).
		Int32("snmp_ok", snmpOK).
		Msg("enrichment finished")
}
