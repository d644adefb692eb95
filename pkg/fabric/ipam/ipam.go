package ipam

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/apparentlymart/go-cidr/cidr"

	"github.com/glennswest/leafroute/pkg/fabric"
)

// linkBits is the prefix length of every point-to-point subnet handed out.
const linkBits = 30

// Link is one point-to-point subnet. A goes to the first node processed,
// B to its peer.
type Link struct {
	Network netip.Prefix `json:"network" yaml:"network"`
	A       netip.Prefix `json:"a" yaml:"a"`
	B       netip.Prefix `json:"b" yaml:"b"`
}

// Peer returns the address on the other end of the link from addr.
func (l Link) Peer(addr netip.Prefix) netip.Prefix {
	if addr == l.A {
		return l.B
	}
	return l.A
}

// Pool carves an IPv4 CIDR into /30 subnets in address order. It never
// wraps: once the last subnet is handed out every further request fails.
type Pool struct {
	mu        sync.Mutex
	base      *net.IPNet
	prefix    netip.Prefix
	next      uint64
	size      uint64
	allocated map[string]Link // key (e.g. cluster name) -> link
}

// NewPool parses cidr and returns an empty pool over it.
func NewPool(cidrStr string) (*Pool, error) {
	prefix, err := netip.ParsePrefix(cidrStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pool %q: %w", cidrStr, err)
	}
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("pool %s is not IPv4", prefix)
	}
	if prefix.Bits() > linkBits {
		return nil, fmt.Errorf("pool %s is smaller than a /%d", prefix, linkBits)
	}

	_, base, err := net.ParseCIDR(prefix.String())
	if err != nil {
		return nil, fmt.Errorf("parsing pool %q: %w", cidrStr, err)
	}

	return &Pool{
		base:      base,
		prefix:    prefix,
		size:      uint64(1) << (linkBits - prefix.Bits()),
		allocated: make(map[string]Link),
	}, nil
}

// Prefix returns the pool's CIDR.
func (p *Pool) Prefix() netip.Prefix {
	return p.prefix
}

// Capacity is the total number of links the pool can hand out.
func (p *Pool) Capacity() int {
	return int(p.size)
}

// Allocate returns the link recorded under key, carving the next subnet if
// key has none yet.
func (p *Pool) Allocate(key string) (Link, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.allocated[key]; ok {
		return l, nil
	}
	if p.next >= p.size {
		return Link{}, &fabric.AllocationExhaustedError{
			Resource: fmt.Sprintf("address pool %s (%d links)", p.prefix, p.size),
		}
	}

	subnet, err := cidr.Subnet(p.base, linkBits-p.prefix.Bits(), int(p.next))
	if err != nil {
		return Link{}, fmt.Errorf("carving link %d from %s: %w", p.next, p.prefix, err)
	}
	p.next++

	network := netip.PrefixFrom(toAddr(subnet.IP), linkBits)
	a, err := cidr.Host(subnet, 1)
	if err != nil {
		return Link{}, err
	}
	b, err := cidr.Host(subnet, 2)
	if err != nil {
		return Link{}, err
	}

	l := Link{
		Network: network,
		A:       netip.PrefixFrom(toAddr(a), linkBits),
		B:       netip.PrefixFrom(toAddr(b), linkBits),
	}
	p.allocated[key] = l
	return l, nil
}

// ─── IP Helpers ─────────────────────────────────────────────────────────────

func toAddr(ip net.IP) netip.Addr {
	addr, _ := netip.AddrFromSlice(ip.To4())
	return addr
}

// AddrToUint32 converts an IPv4 address to a uint32.
func AddrToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// Uint32ToAddr converts a uint32 to an IPv4 address.
func Uint32ToAddr(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}
