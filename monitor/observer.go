package monitor

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Observers receive the decoded layer of the current frame. The layer values
// are reused by the Monitor and are only valid for the duration of the call.

type EthernetObserver interface {
	ObserveEthernet(iface *Interface, eth *layers.Ethernet)
}

type ARPObserver interface {
	ObserveARP(iface *Interface, eth *layers.Ethernet, arp *layers.ARP)
}

type IPv4Observer interface {
	ObserveIPv4(iface *Interface, eth *layers.Ethernet, ip *layers.IPv4)
}

type IPv6Observer interface {
	ObserveIPv6(iface *Interface, eth *layers.Ethernet, ip *layers.IPv6)
}

// TransportObserver fires for every IP packet, whether or not the protocol
// has a dedicated decoder.
type TransportObserver interface {
	ObserveTransport(iface *Interface, sd SrcDest, proto layers.IPProtocol, payload []byte)
}

type TCPObserver interface {
	ObserveTCP(iface *Interface, sd SrcDest, tcp *layers.TCP)
}

type UDPObserver interface {
	ObserveUDP(iface *Interface, sd SrcDest, udp *layers.UDP)
}

type ICMPv4Observer interface {
	ObserveICMPv4(iface *Interface, sd SrcDest, icmp *layers.ICMPv4)
}

type ICMPv6Observer interface {
	ObserveICMPv6(iface *Interface, sd SrcDest, icmp *layers.ICMPv6)
}

// Unrecognized describes a well-formed layer whose next type has no decoder.
type Unrecognized struct {
	// Layer is the layer that carried the unknown type.
	Layer     gopacket.LayerType
	EtherType layers.EthernetType
	Protocol  layers.IPProtocol
	SrcDest   SrcDest
	Length    int
}

type UnrecognizedObserver interface {
	ObserveUnrecognized(iface *Interface, u Unrecognized)
}

type EthernetObserverFunc func(iface *Interface, eth *layers.Ethernet)

func (f EthernetObserverFunc) ObserveEthernet(iface *Interface, eth *layers.Ethernet) {
	f(iface, eth)
}

type ARPObserverFunc func(iface *Interface, eth *layers.Ethernet, arp *layers.ARP)

func (f ARPObserverFunc) ObserveARP(iface *Interface, eth *layers.Ethernet, arp *layers.ARP) {
	f(iface, eth, arp)
}

type IPv4ObserverFunc func(iface *Interface, eth *layers.Ethernet, ip *layers.IPv4)

func (f IPv4ObserverFunc) ObserveIPv4(iface *Interface, eth *layers.Ethernet, ip *layers.IPv4) {
	f(iface, eth, ip)
}

type IPv6ObserverFunc func(iface *Interface, eth *layers.Ethernet, ip *layers.IPv6)

func (f IPv6ObserverFunc) ObserveIPv6(iface *Interface, eth *layers.Ethernet, ip *layers.IPv6) {
	f(iface, eth, ip)
}

type TransportObserverFunc func(iface *Interface, sd SrcDest, proto layers.IPProtocol, payload []byte)

func (f TransportObserverFunc) ObserveTransport(iface *Interface, sd SrcDest, proto layers.IPProtocol, payload []byte) {
	f(iface, sd, proto, payload)
}

type TCPObserverFunc func(iface *Interface, sd SrcDest, tcp *layers.TCP)

func (f TCPObserverFunc) ObserveTCP(iface *Interface, sd SrcDest, tcp *layers.TCP) {
	f(iface, sd, tcp)
}

type UDPObserverFunc func(iface *Interface, sd SrcDest, udp *layers.UDP)

func (f UDPObserverFunc) ObserveUDP(iface *Interface, sd SrcDest, udp *layers.UDP) {
	f(iface, sd, udp)
}

type ICMPv4ObserverFunc func(iface *Interface, sd SrcDest, icmp *layers.ICMPv4)

func (f ICMPv4ObserverFunc) ObserveICMPv4(iface *Interface, sd SrcDest, icmp *layers.ICMPv4) {
	f(iface, sd, icmp)
}

type ICMPv6ObserverFunc func(iface *Interface, sd SrcDest, icmp *layers.ICMPv6)

func (f ICMPv6ObserverFunc) ObserveICMPv6(iface *Interface, sd SrcDest, icmp *layers.ICMPv6) {
	f(iface, sd, icmp)
}

type UnrecognizedObserverFunc func(iface *Interface, u Unrecognized)

func (f UnrecognizedObserverFunc) ObserveUnrecognized(iface *Interface, u Unrecognized) {
	f(iface, u)
}
