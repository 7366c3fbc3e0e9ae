package netscan

import (
	"bytes"
	"context"
	"net"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/j-keck/arping"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

var (
	ErrNotFound = errors.New("MAC address not found")

	arpLineRegex = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+).*?(([0-9a-fA-F]{2}[:-]){5}([0-9a-fA-F]{2}))`)
)

// Lookup returns the hardware address for an IP address.
type Lookup func(ctx context.Context, ip net.IP) (net.HardwareAddr, error)

type namedLookup struct {
	name   string
	lookup Lookup
}

// Resolver resolves IP addresses to MAC addresses.
type Resolver struct {
	pinger  Pinger
	lookups []namedLookup
	logger  *logrus.Entry
}

// NewResolver returns a Resolver that primes the neighbour cache with the given pinger
// and then tries the kernel neighbour table, an ARP probe and the arp command in that order.
func NewResolver(pinger Pinger, logger *logrus.Logger) *Resolver {
	return &Resolver{
		pinger: pinger,
		lookups: []namedLookup{
			{"netlink", NeighbourTableLookup},
			{"arping", ARPProbeLookup},
			{"arp", ARPCommandLookup},
		},
		logger: logger.WithField("component", "netscan.resolver"),
	}
}

// Resolve returns the MAC address for the IP address.
func (r *Resolver) Resolve(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	if r.pinger != nil {
		if _, err := r.pinger.Ping(ctx, ip); err != nil {
			r.logger.WithField("ip", ip.String()).WithError(err).Debug("neighbour cache prime failed")
		}
	}

	for _, l := range r.lookups {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		hw, err := l.lookup(ctx, ip)
		if err != nil {
			r.logger.WithFields(logrus.Fields{"ip": ip.String(), "lookup": l.name}).WithError(err).Trace("lookup failed")
			continue
		}

		if validMAC(hw) {
			return hw, nil
		}
	}

	return nil, errors.Wrap(ErrNotFound, ip.String())
}

// ResolveAll resolves every address and returns the found MAC addresses keyed by IP address.
func (r *Resolver) ResolveAll(ctx context.Context, ips []net.IP) map[string]net.HardwareAddr {
	found := map[string]net.HardwareAddr{}
	notFound := []string{}

	for _, ip := range ips {
		hw, err := r.Resolve(ctx, ip)
		if err != nil {
			notFound = append(notFound, ip.String())
			continue
		}

		found[ip.String()] = hw
	}

	pairs := make([]string, 0, len(found))
	for ip, hw := range found {
		pairs = append(pairs, ip+" -> "+hw.String())
	}

	sort.Strings(pairs)

	r.logger.WithField("resolved", pairs).Info("IP -> MAC")

	if len(notFound) > 0 {
		r.logger.WithField("ips", notFound).Warn("MAC address not found")
	}

	return found
}

// NeighbourTableLookup looks up the address in the kernel neighbour table.
func NeighbourTableLookup(_ context.Context, ip net.IP) (net.HardwareAddr, error) {
	neighbours, err := netlink.NeighList(0, netlink.FAMILY_V4)
	if err != nil {
		return nil, err
	}

	for _, n := range neighbours {
		if !n.IP.Equal(ip) {
			continue
		}

		if n.State&(netlink.NUD_INCOMPLETE|netlink.NUD_FAILED) != 0 {
			continue
		}

		if validMAC(n.HardwareAddr) {
			return n.HardwareAddr, nil
		}
	}

	return nil, ErrNotFound
}

// ARPProbeLookup sends an ARP request for the address.
func ARPProbeLookup(_ context.Context, ip net.IP) (net.HardwareAddr, error) {
	arping.SetTimeout(time.Second)

	hw, _, err := arping.Ping(ip)
	if err != nil {
		return nil, err
	}

	return hw, nil
}

// ARPCommandLookup scrapes the output of `arp -a <ip>`.
func ARPCommandLookup(ctx context.Context, ip net.IP) (net.HardwareAddr, error) {
	// nolint:gosec // the argument is a parsed IP address
	out, err := exec.CommandContext(ctx, "arp", "-a", ip.String()).Output()
	if err != nil {
		return nil, err
	}

	return parseARPOutput(ip, out)
}

func parseARPOutput(ip net.IP, out []byte) (net.HardwareAddr, error) {
	for _, line := range bytes.Split(out, []byte("\n")) {
		m := arpLineRegex.FindSubmatch(line)
		if len(m) < 3 {
			continue
		}

		if !net.ParseIP(string(m[1])).Equal(ip) {
			continue
		}

		hw, err := net.ParseMAC(string(m[2]))
		if err != nil {
			continue
		}

		if validMAC(hw) {
			return hw, nil
		}
	}

	return nil, ErrNotFound
}

// NormalizeMAC returns the MAC address in lower case with the : and - separators removed.
func NormalizeMAC(mac string) string {
	r := strings.NewReplacer(":", "", "-", "")

	return strings.ToLower(r.Replace(strings.TrimSpace(mac)))
}

func validMAC(hw net.HardwareAddr) bool {
	if len(hw) == 0 {
		return false
	}

	for _, b := range hw {
		if b != 0 {
			return true
		}
	}

	return false
}
