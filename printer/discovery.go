package printer

import (
	"context"
	"encoding/binary"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/john/monox_bridge/uartwifi"
)

// maxScanHosts bounds a single subnet expansion (a /22).
const maxScanHosts = 1024

// DiscoveredPrinter is a host that answered a sysinfo probe.
type DiscoveredPrinter struct {
	Host     string `json:"host"`
	Model    string `json:"model"`
	Firmware string `json:"firmware"`
	Serial   string `json:"serial"`
}

// Discover probes every host in hosts on port for a sysinfo reply, with at
// most workers probes in flight. Hosts that do not answer are skipped. The
// result is ordered by address.
func Discover(ctx context.Context, hosts []string, port int, timeout time.Duration, workers int) []DiscoveredPrinter {
	if workers <= 0 {
		workers = 32
	}

	var (
		mu       sync.Mutex
		printers []DiscoveredPrinter
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			info, err := NewAdapter(uartwifi.NewClient(host, port, timeout)).QuerySysInfo(gctx)
			if err != nil {
				log.Trace().Err(err).Str("host", host).Msg("probe")
				return nil
			}
			mu.Lock()
			printers = append(printers, DiscoveredPrinter{
				Host:     host,
				Model:    info.Model,
				Firmware: info.Firmware,
				Serial:   info.Serial,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(printers, func(a, b DiscoveredPrinter) int { return compareHosts(a.Host, b.Host) })
	return printers
}

// compareHosts orders IP addresses numerically and anything else after
// them by name.
func compareHosts(a, b string) int {
	ia, errA := netip.ParseAddr(a)
	ib, errB := netip.ParseAddr(b)
	switch {
	case errA == nil && errB == nil:
		return ia.Compare(ib)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// SubnetHosts expands an IPv4 CIDR into its usable host addresses.
func SubnetHosts(cidr string) ([]string, error) {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse subnet %q", cidr)
	}
	base := n.IP.To4()
	if base == nil {
		return nil, errors.Errorf("subnet %q is not IPv4", cidr)
	}
	ones, bits := n.Mask.Size()
	hostBits := bits - ones
	if uint64(1)<<hostBits > maxScanHosts {
		return nil, errors.Errorf("subnet %q has %d addresses, limit is %d", cidr, uint64(1)<<hostBits, maxScanHosts)
	}
	size := uint32(1) << hostBits

	start := binary.BigEndian.Uint32(base)
	first, last := start, start+size-1
	if size > 2 {
		// Skip network and broadcast addresses.
		first, last = first+1, last-1
	}

	hosts := make([]string, 0, last-first+1)
	for i := uint32(0); i <= last-first; i++ {
		ip := make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, first+i)
		hosts = append(hosts, ip.String())
	}
	return hosts, nil
}

// LocalSubnets lists the IPv4 subnets of this machine's non-loopback
// interfaces, narrowed to at most a /24 around the local address.
func LocalSubnets() ([]string, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var subnets []string
	for _, iface := range ifs {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipn, ok := addr.(*net.IPNet)
			if !ok || ipn.IP.IsLoopback() {
				continue
			}
			v4 := ipn.IP.To4()
			if v4 == nil {
				continue
			}
			ones, _ := ipn.Mask.Size()
			if ones < 24 {
				ones = 24
			}
			n := net.IPNet{IP: v4.Mask(net.CIDRMask(ones, 32)), Mask: net.CIDRMask(ones, 32)}
			if s := n.String(); !seen[s] {
				seen[s] = true
				subnets = append(subnets, s)
			}
		}
	}
	return subnets, nil
}
