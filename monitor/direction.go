package monitor

import (
	"bytes"
	"net"
	"net/netip"

	"github.com/google/gopacket/layers"
)

// Interface is the capture interface and the addresses it owns.
type Interface struct {
	Name  string
	MAC   net.HardwareAddr
	Addrs []netip.Addr
}

// SrcDest is the address pair of an IP packet.
type SrcDest struct {
	Src netip.Addr
	Dst netip.Addr
}

// IsIncomingIP reports whether addr is one of the interface's own addresses.
// Addresses of different families never match, 4-in-6 included.
func IsIncomingIP(addr netip.Addr, iface *Interface) bool {
	if iface == nil || !addr.IsValid() {
		return false
	}
	for _, own := range iface.Addrs {
		if own == addr {
			return true
		}
	}
	return false
}

// IsIncomingMAC reports whether mac is the interface's hardware address.
func IsIncomingMAC(mac net.HardwareAddr, iface *Interface) bool {
	if iface == nil || len(iface.MAC) == 0 {
		return false
	}
	return bytes.Equal(mac, iface.MAC)
}

func EthernetIncoming(eth *layers.Ethernet, iface *Interface) bool {
	return IsIncomingMAC(eth.DstMAC, iface)
}

func IPv4Incoming(ip *layers.IPv4, iface *Interface) bool {
	return IsIncomingIP(addrFromIP(ip.DstIP), iface)
}

func IPv6Incoming(ip *layers.IPv6, iface *Interface) bool {
	return IsIncomingIP(addrFromIP(ip.DstIP), iface)
}

// ARPIncoming looks at the target protocol address: a request or reply
// aimed at one of our addresses is inbound.
func ARPIncoming(arp *layers.ARP, iface *Interface) bool {
	addr, ok := netip.AddrFromSlice(arp.DstProtAddress)
	if !ok {
		return false
	}
	return IsIncomingIP(addr, iface)
}

// addrFromIP keeps the family of the wire format: 4-byte slices become IPv4,
// 16-byte slices stay IPv6.
func addrFromIP(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr
}
