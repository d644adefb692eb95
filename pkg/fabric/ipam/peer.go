package ipam

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/apparentlymart/go-cidr/cidr"
)

// PeerAddress derives the address of the directly attached peer from the
// local interface address. Links are numbered in aligned blocks of four
// where host .1 faces host .2, so the peer is the other usable host of the
// block. /31 links simply flip the low bit.
//
// The convention is inherited from the bootstrap stage and is not checked
// against discovery: a link numbered differently yields a wrong peer.
func PeerAddress(local netip.Prefix) (netip.Addr, error) {
	addr := local.Addr()
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%s: only IPv4 links are supported", local)
	}

	ip := net.IP(addr.AsSlice())
	if local.Bits() == 31 {
		return Uint32ToAddr(AddrToUint32(addr) ^ 1), nil
	}

	switch AddrToUint32(addr) & 3 {
	case 1:
		return toAddr(cidr.Inc(ip)), nil
	case 2:
		return toAddr(cidr.Dec(ip)), nil
	}
	return netip.Addr{}, fmt.Errorf("%s is not a point-to-point host address", local)
}

// IsPointToPoint reports whether the prefix length matches a two-host link.
// Other lengths are still resolved by PeerAddress but deserve a warning.
func IsPointToPoint(p netip.Prefix) bool {
	return p.Bits() == 30 || p.Bits() == 31
}

// LinkNetwork returns the network enclosing the local interface address.
func LinkNetwork(local netip.Prefix) netip.Prefix {
	return local.Masked()
}
