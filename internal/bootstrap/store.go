// Package bootstrap stores the tier-1 and tier-2 resolver lists and the
// liveness test domains in the daemon's data directory.
package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"

	"github.com/alexcatdad/nicd/internal/paths"
	"github.com/alexcatdad/nicd/internal/settings"
)

// DiscoveryTimeout bounds one tier-2 discovery across all tier-1 servers.
const DiscoveryTimeout = 5 * time.Second

//go:embed defaults
var defaults embed.FS

// GlueLookup discovers tier-2 resolver addresses by asking the given tier-1
// servers.
type GlueLookup interface {
	LookupTier2(ctx context.Context, servers []netip.Addr) ([]netip.Addr, error)
}

// Store reads and writes the bootstrap lists. Missing tier-1 and domain
// lists are seeded from built-in defaults on first read.
type Store struct {
	tier1Path   string
	tier2Path   string
	domainsPath string
	glue        GlueLookup

	discoveryTimeout time.Duration
}

// NewStore returns a store rooted at p. glue may be nil, in which case tier-2
// addresses come only from the cached list.
func NewStore(p *paths.Paths, glue GlueLookup) *Store {
	return &Store{
		tier1Path:   p.Tier1Path,
		tier2Path:   p.Tier2Path,
		domainsPath: p.DomainsPath,
		glue:        glue,

		discoveryTimeout: DiscoveryTimeout,
	}
}

// SetGlue replaces the tier-2 discovery mechanism.
func (s *Store) SetGlue(glue GlueLookup) {
	s.glue = glue
}

// Tier1 returns the tier-1 bootstrap addresses as written in the list.
func (s *Store) Tier1(_ context.Context) ([]string, error) {
	return readSeeded(s.tier1Path, "defaults/t1.list")
}

// SaveTier1 replaces the tier-1 list. Every non-empty entry must be an IP
// address.
func (s *Store) SaveTier1(list []string) error {
	var merr *multierror.Error
	for _, entry := range clean(list) {
		if _, err := netip.ParseAddr(entry); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("invalid resolver address %q", entry))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	return writeList(s.tier1Path, list)
}

// Tier2 asks the glue lookup for fresh tier-2 addresses through the tier-1
// resolvers and caches the result. When discovery fails or returns nothing
// the cached list is returned together with the discovery error. Discovery
// gives up after DiscoveryTimeout.
func (s *Store) Tier2(ctx context.Context) ([]string, error) {
	var lookupErr error
	if s.glue != nil {
		servers, err := s.tier1Addrs(ctx)
		if err == nil {
			lctx, cancel := context.WithTimeout(ctx, s.discoveryTimeout)
			var found []netip.Addr
			found, lookupErr = s.glue.LookupTier2(lctx, servers)
			cancel()
			if lookupErr == nil && len(found) > 0 {
				list := make([]string, len(found))
				for i, addr := range found {
					list[i] = addr.String()
				}
				if err := writeList(s.tier2Path, list); err != nil {
					lookupErr = fmt.Errorf("caching tier-2 list: %w", err)
				}
				return list, lookupErr
			}
		} else {
			lookupErr = err
		}
	}

	cached, err := readList(s.tier2Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, lookupErr
	}
	if err != nil {
		return nil, multierror.Append(lookupErr, err).ErrorOrNil()
	}
	return cached, lookupErr
}

func (s *Store) tier1Addrs(ctx context.Context) ([]netip.Addr, error) {
	list, err := s.Tier1(ctx)
	if err != nil {
		return nil, err
	}
	var addrs []netip.Addr
	for _, entry := range clean(list) {
		if addr, err := netip.ParseAddr(entry); err == nil {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("no usable tier-1 resolvers for tier-2 discovery")
	}
	return addrs, nil
}

// TestDomains returns the domains used for liveness probes.
func (s *Store) TestDomains() ([]string, error) {
	return readSeeded(s.domainsPath, "defaults/domains.list")
}

// SaveTestDomains replaces the test-domain list. Every non-empty entry must
// be a valid domain name.
func (s *Store) SaveTestDomains(list []string) error {
	var merr *multierror.Error
	for _, entry := range clean(list) {
		if _, ok := dns.IsDomainName(entry); !ok {
			merr = multierror.Append(merr, fmt.Errorf("invalid domain %q", entry))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return err
	}
	return writeList(s.domainsPath, list)
}

func readSeeded(path, seed string) ([]string, error) {
	list, err := readList(path)
	if !errors.Is(err, os.ErrNotExist) {
		return list, err
	}
	data, err := defaults.ReadFile(seed)
	if err != nil {
		return nil, fmt.Errorf("reading built-in %s: %w", seed, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return parse(data), fmt.Errorf("creating data dir: %w", err)
	}
	if err := settings.WriteFileAtomic(path, data, 0644); err != nil {
		return parse(data), fmt.Errorf("seeding %s: %w", path, err)
	}
	return parse(data), nil
}

func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data), nil
}

// parse returns one entry per line. Comment lines are dropped; blank lines
// are kept so callers see the list the way it was written.
func parse(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

func writeList(path string, list []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	var buf bytes.Buffer
	for _, entry := range clean(list) {
		buf.WriteString(entry)
		buf.WriteByte('\n')
	}
	return settings.WriteFileAtomic(path, buf.Bytes(), 0644)
}

func clean(list []string) []string {
	out := make([]string, 0, len(list))
	for _, entry := range list {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
