// Package dns probes upstream resolvers and discovers tier-2 resolvers with
// plain DNS queries.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
)

// DefaultTimeout bounds a single query when the caller's context has no
// earlier deadline.
const DefaultTimeout = 3 * time.Second

// GlueDomain lists the OpenNIC tier-2 servers when queried through a tier-1
// resolver.
const GlueDomain = "dns.opennic.glue."

// ErrNoTestDomains is returned when there is nothing to probe with.
var ErrNoTestDomains = errors.New("no test domains configured")

// DomainSource supplies the domains used for liveness probes.
type DomainSource interface {
	TestDomains() ([]string, error)
}

// Exchanger is satisfied by *dns.Client.
type Exchanger interface {
	ExchangeContext(ctx context.Context, m *dns.Msg, address string) (*dns.Msg, time.Duration, error)
}

// Prober checks resolver liveness by resolving one of the test domains.
// Successive probes rotate through the domain list. It is safe for
// concurrent use.
type Prober struct {
	client  Exchanger
	domains DomainSource
	port    string
	next    atomic.Uint64
}

func NewProber(domains DomainSource) *Prober {
	return &Prober{
		client:  &dns.Client{Net: "udp", Timeout: DefaultTimeout},
		domains: domains,
		port:    "53",
	}
}

// WithPort changes the port probes are sent to.
func (p *Prober) WithPort(port int) *Prober {
	p.port = fmt.Sprint(port)
	return p
}

// Probe sends an A query for the next test domain to addr. A resolver that
// answers NOERROR or NXDOMAIN is alive.
func (p *Prober) Probe(ctx context.Context, addr netip.Addr) error {
	domain, err := p.nextDomain()
	if err != nil {
		return err
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	m.RecursionDesired = true

	r, _, err := p.exchange(ctx, m, addr)
	if err != nil {
		return fmt.Errorf("probing %s for %s: %w", addr, domain, err)
	}
	switch r.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
		return nil
	default:
		return fmt.Errorf("probing %s for %s: %s", addr, domain, dns.RcodeToString[r.Rcode])
	}
}

func (p *Prober) nextDomain() (string, error) {
	list, err := p.domains.TestDomains()
	if err != nil {
		return "", fmt.Errorf("loading test domains: %w", err)
	}
	var usable []string
	for _, d := range list {
		if d = strings.TrimSpace(d); d != "" {
			usable = append(usable, d)
		}
	}
	if len(usable) == 0 {
		return "", ErrNoTestDomains
	}
	n := p.next.Add(1) - 1
	return usable[n%uint64(len(usable))], nil
}

// exchange sends one query. Each query gets at most DefaultTimeout, less
// when ctx expires sooner.
func (p *Prober) exchange(ctx context.Context, m *dns.Msg, addr netip.Addr) (*dns.Msg, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return p.client.ExchangeContext(ctx, m, net.JoinHostPort(addr.Unmap().String(), p.port))
}

// LookupTier2 asks each server in turn for the A and AAAA records of
// GlueDomain and returns the first non-empty answer.
func (p *Prober) LookupTier2(ctx context.Context, servers []netip.Addr) ([]netip.Addr, error) {
	var merr *multierror.Error
	for _, server := range servers {
		addrs, err := p.lookupGlue(ctx, server)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *Prober) lookupGlue(ctx context.Context, server netip.Addr) ([]netip.Addr, error) {
	var out []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(GlueDomain, qtype)
		m.RecursionDesired = true

		r, _, err := p.exchange(ctx, m, server)
		if err != nil {
			return nil, fmt.Errorf("querying %s for %s: %w", server, GlueDomain, err)
		}
		if r.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range r.Answer {
			var ip net.IP
			switch rec := rr.(type) {
			case *dns.A:
				ip = rec.A
			case *dns.AAAA:
				ip = rec.AAAA
			default:
				continue
			}
			if addr, ok := netip.AddrFromSlice(ip); ok {
				out = append(out, addr.Unmap())
			}
		}
	}
	return out, nil
}
