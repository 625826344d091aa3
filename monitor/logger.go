package monitor

import (
	"net"

	"github.com/google/gopacket/layers"

	"github.com/jinmuyano/netwatch/logging"
)

// PacketLogger logs every ARP, ICMP, TCP and UDP packet at debug level. It
// implements the matching observer interfaces so it can be installed alone or
// called from other observers.
type PacketLogger struct{}

// NewLogger returns a Monitor whose only observers are a PacketLogger. Extra
// options are applied afterwards and replace the logger in their slot.
func NewLogger(iface *Interface, opts ...optionFunc) *Monitor {
	pl := PacketLogger{}
	base := []optionFunc{
		WithARPObserver(pl),
		WithICMPv4Observer(pl),
		WithICMPv6Observer(pl),
		WithTCPObserver(pl),
		WithUDPObserver(pl),
		WithUnrecognizedObserver(pl),
	}
	return New(iface, append(base, opts...)...)
}

func (PacketLogger) ObserveARP(iface *Interface, eth *layers.Ethernet, arp *layers.ARP) {
	logging.Iface(iface.Name).Debugf(
		"ARP packet: %s(%v) > %s(%v); operation: %d",
		eth.SrcMAC, net.IP(arp.SourceProtAddress), eth.DstMAC, net.IP(arp.DstProtAddress), arp.Operation)
}

func (PacketLogger) ObserveICMPv4(iface *Interface, sd SrcDest, icmp *layers.ICMPv4) {
	fields := logging.IfaceFields(iface.Name)
	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeEchoReply:
		logging.DebugWithFields(fields, "ICMP echo reply %s -> %s (seq=%d, id=%d)",
			sd.Src, sd.Dst, icmp.Seq, icmp.Id)
	case layers.ICMPv4TypeEchoRequest:
		logging.DebugWithFields(fields, "ICMP echo request %s -> %s (seq=%d, id=%d)",
			sd.Src, sd.Dst, icmp.Seq, icmp.Id)
	default:
		logging.DebugWithFields(fields, "ICMP packet %s -> %s (type=%s)",
			sd.Src, sd.Dst, icmp.TypeCode)
	}
}

func (PacketLogger) ObserveICMPv6(iface *Interface, sd SrcDest, icmp *layers.ICMPv6) {
	logging.Iface(iface.Name).Debugf(
		"ICMPv6 packet %s -> %s (type=%s)", sd.Src, sd.Dst, icmp.TypeCode)
}

func (PacketLogger) ObserveTCP(iface *Interface, sd SrcDest, tcp *layers.TCP) {
	logging.Iface(iface.Name).Debugf(
		"TCP packet: %s:%d > %s:%d; length: %d",
		sd.Src, tcp.SrcPort, sd.Dst, tcp.DstPort, len(tcp.Contents)+len(tcp.Payload))
}

func (PacketLogger) ObserveUDP(iface *Interface, sd SrcDest, udp *layers.UDP) {
	logging.Iface(iface.Name).Debugf(
		"UDP packet: %s:%d > %s:%d; length: %d",
		sd.Src, udp.SrcPort, sd.Dst, udp.DstPort, udp.Length)
}

func (PacketLogger) ObserveUnrecognized(iface *Interface, u Unrecognized) {
	LogUnrecognized(iface, u)
}

// LogUnrecognized logs a layer type with no decoder at debug level.
func LogUnrecognized(iface *Interface, u Unrecognized) {
	fields := logging.IfaceFields(iface.Name, "length", u.Length)
	if u.Layer == layers.LayerTypeEthernet {
		logging.DebugWithFields(fields, "unknown packet; ethertype: %s", u.EtherType)
		return
	}
	logging.DebugWithFields(fields, "unknown %s packet: %s > %s; protocol: %s",
		u.Layer, u.SrcDest.Src, u.SrcDest.Dst, u.Protocol)
}
