// Package monitor decodes captured link-layer frames layer by layer and hands
// each decoded layer to the observers installed on the Monitor.
//
//	Ethernet
//	  ARP
//	  IPv4, IPv6
//	    transport
//	      TCP, UDP, ICMPv4, ICMPv6
//
// A malformed layer stops the current frame only; the next frame is decoded
// normally.
package monitor

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const ethernetHeaderLen = 14

// ParseError reports bytes that could not be decoded as the expected layer.
type ParseError struct {
	Iface string
	Layer gopacket.LayerType
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("[%s]: malformed %s packet: %v", e.Iface, e.Layer, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Stats are running totals since the Monitor was created.
type Stats struct {
	Frames        uint64 `json:"frames"`
	ParseFailures uint64 `json:"parse_failures"`
	Unrecognized  uint64 `json:"unrecognized"`
}

type hooks struct {
	ethernet     EthernetObserver
	arp          ARPObserver
	ipv4         IPv4Observer
	ipv6         IPv6Observer
	transport    TransportObserver
	tcp          TCPObserver
	udp          UDPObserver
	icmpv4       ICMPv4Observer
	icmpv6       ICMPv6Observer
	unrecognized UnrecognizedObserver
}

// Monitor is the layered dispatcher for one interface. Dispatch must be
// called from a single goroutine: decoders are reused between frames.
type Monitor struct {
	iface *Interface
	hooks hooks

	eth   layers.Ethernet
	arp   layers.ARP
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP
	icmp4 layers.ICMPv4
	icmp6 layers.ICMPv6

	linkBuf []byte

	frames        uint64
	parseFailures uint64
	unrecognized  uint64
}

type optionFunc func(*Monitor)

// Option lets other packages assemble option lists.
type Option = optionFunc

func WithEthernetObserver(o EthernetObserver) optionFunc {
	return func(m *Monitor) {
		m.hooks.ethernet = o
	}
}

func WithARPObserver(o ARPObserver) optionFunc {
	return func(m *Monitor) {
		m.hooks.arp = o
	}
}

func WithIPv4Observer(o IPv4Observer) optionFunc {
	return func(m *Monitor) {
		m.hooks.ipv4 = o
	}
}

func WithIPv6Observer(o IPv6Observer) optionFunc {
	return func(m *Monitor) {
		m.hooks.ipv6 = o
	}
}

func WithTransportObserver(o TransportObserver) optionFunc {
	return func(m *Monitor) {
		m.hooks.transport = o
	}
}

func WithTCPObserver(o TCPObserver) optionFunc {
	return func(m *Monitor) {
		m.hooks.tcp = o
	}
}

func WithUDPObserver(o UDPObserver) optionFunc {
	return func(m *Monitor) {
		m.hooks.udp = o
	}
}

func WithICMPv4Observer(o ICMPv4Observer) optionFunc {
	return func(m *Monitor) {
		m.hooks.icmpv4 = o
	}
}

func WithICMPv6Observer(o ICMPv6Observer) optionFunc {
	return func(m *Monitor) {
		m.hooks.icmpv6 = o
	}
}

func WithUnrecognizedObserver(o UnrecognizedObserver) optionFunc {
	return func(m *Monitor) {
		m.hooks.unrecognized = o
	}
}

func New(iface *Interface, opts ...optionFunc) *Monitor {
	if iface == nil {
		iface = &Interface{}
	}

	m := &Monitor{iface: iface}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Interface() *Interface {
	return m.iface
}

func (m *Monitor) Stats() Stats {
	return Stats{
		Frames:        atomic.LoadUint64(&m.frames),
		ParseFailures: atomic.LoadUint64(&m.parseFailures),
		Unrecognized:  atomic.LoadUint64(&m.unrecognized),
	}
}

// DispatchLink dispatches a frame captured on a link of the given type.
// Raw IP links (TUN devices) get a zero-MAC Ethernet header so they go
// through the same pipeline.
func (m *Monitor) DispatchLink(linkType layers.LinkType, data []byte) error {
	switch linkType {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
	default:
		return m.Dispatch(data)
	}

	if len(data) == 0 {
		atomic.AddUint64(&m.frames, 1)
		return m.parseFailure(layers.LayerTypeIPv4, fmt.Errorf("empty raw IP packet"))
	}

	var ethType layers.EthernetType
	switch data[0] >> 4 {
	case 4:
		ethType = layers.EthernetTypeIPv4
	case 6:
		ethType = layers.EthernetTypeIPv6
	default:
		atomic.AddUint64(&m.frames, 1)
		return m.parseFailure(layers.LayerTypeIPv4, fmt.Errorf("unknown IP version %d", data[0]>>4))
	}

	need := ethernetHeaderLen + len(data)
	if cap(m.linkBuf) < need {
		m.linkBuf = make([]byte, need)
	}
	frame := m.linkBuf[:need]
	for i := 0; i < 12; i++ {
		frame[i] = 0
	}
	binary.BigEndian.PutUint16(frame[12:14], uint16(ethType))
	copy(frame[ethernetHeaderLen:], data)

	return m.Dispatch(frame)
}

// Dispatch decodes one Ethernet frame. The returned error is a *ParseError
// for malformed input and nil otherwise; it never stops the caller's stream.
func (m *Monitor) Dispatch(frame []byte) (err error) {
	atomic.AddUint64(&m.frames, 1)

	defer func() {
		if r := recover(); r != nil {
			err = m.parseFailure(gopacket.LayerTypeDecodeFailure, fmt.Errorf("decoder panic: %v", r))
		}
	}()

	return m.handleEthernetFrame(frame)
}

func (m *Monitor) parseFailure(layer gopacket.LayerType, cause error) error {
	atomic.AddUint64(&m.parseFailures, 1)
	return &ParseError{
		Iface: m.iface.Name,
		Layer: layer,
		Err:   cause,
	}
}

func (m *Monitor) reportUnrecognized(u Unrecognized) {
	atomic.AddUint64(&m.unrecognized, 1)
	if m.hooks.unrecognized != nil {
		m.hooks.unrecognized.ObserveUnrecognized(m.iface, u)
	}
}

func (m *Monitor) handleEthernetFrame(frame []byte) error {
	eth := &m.eth
	if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeEthernet, err)
	}

	if m.hooks.ethernet != nil {
		m.hooks.ethernet.ObserveEthernet(m.iface, eth)
	}

	switch eth.EthernetType {
	case layers.EthernetTypeIPv4:
		return m.handleIPv4Packet(eth)
	case layers.EthernetTypeIPv6:
		return m.handleIPv6Packet(eth)
	case layers.EthernetTypeARP:
		return m.handleARPPacket(eth)
	default:
		m.reportUnrecognized(Unrecognized{
			Layer:     layers.LayerTypeEthernet,
			EtherType: eth.EthernetType,
			Length:    len(frame),
		})
		return nil
	}
}

func (m *Monitor) handleARPPacket(eth *layers.Ethernet) error {
	arp := &m.arp
	if err := arp.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeARP, err)
	}

	if m.hooks.arp != nil {
		m.hooks.arp.ObserveARP(m.iface, eth, arp)
	}
	return nil
}

func (m *Monitor) handleIPv4Packet(eth *layers.Ethernet) error {
	ip := &m.ip4
	if err := ip.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeIPv4, err)
	}

	if m.hooks.ipv4 != nil {
		m.hooks.ipv4.ObserveIPv4(m.iface, eth, ip)
	}

	sd := SrcDest{Src: addrFromIP(ip.SrcIP), Dst: addrFromIP(ip.DstIP)}
	return m.handleTransportProtocol(sd, ip.Protocol, ip.Payload)
}

func (m *Monitor) handleIPv6Packet(eth *layers.Ethernet) error {
	ip := &m.ip6
	if err := ip.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeIPv6, err)
	}

	if m.hooks.ipv6 != nil {
		m.hooks.ipv6.ObserveIPv6(m.iface, eth, ip)
	}

	// the decoder already strips hop-by-hop options from Payload, except
	// for jumbograms (Length 0) where they are left in front
	proto, payload := ip.NextHeader, ip.Payload
	if hbh := ip.HopByHop; hbh != nil {
		proto = hbh.NextHeader
		if ip.Length == 0 {
			if hbh.ActualLength > len(payload) {
				return m.parseFailure(layers.LayerTypeIPv6HopByHop, fmt.Errorf("hop-by-hop header exceeds payload"))
			}
			payload = payload[hbh.ActualLength:]
		}
	}

	sd := SrcDest{Src: addrFromIP(ip.SrcIP), Dst: addrFromIP(ip.DstIP)}
	return m.handleTransportProtocol(sd, proto, payload)
}

func (m *Monitor) handleTransportProtocol(sd SrcDest, proto layers.IPProtocol, payload []byte) error {
	if m.hooks.transport != nil {
		m.hooks.transport.ObserveTransport(m.iface, sd, proto, payload)
	}

	switch proto {
	case layers.IPProtocolTCP:
		return m.handleTCPPacket(sd, payload)
	case layers.IPProtocolUDP:
		return m.handleUDPPacket(sd, payload)
	case layers.IPProtocolICMPv4:
		return m.handleICMPv4Packet(sd, payload)
	case layers.IPProtocolICMPv6:
		return m.handleICMPv6Packet(sd, payload)
	default:
		layer := layers.LayerTypeIPv4
		if sd.Src.Is6() {
			layer = layers.LayerTypeIPv6
		}
		m.reportUnrecognized(Unrecognized{
			Layer:    layer,
			Protocol: proto,
			SrcDest:  sd,
			Length:   len(payload),
		})
		return nil
	}
}

func (m *Monitor) handleTCPPacket(sd SrcDest, payload []byte) error {
	tcp := &m.tcp
	if err := tcp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeTCP, err)
	}

	if m.hooks.tcp != nil {
		m.hooks.tcp.ObserveTCP(m.iface, sd, tcp)
	}
	return nil
}

func (m *Monitor) handleUDPPacket(sd SrcDest, payload []byte) error {
	udp := &m.udp
	if err := udp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeUDP, err)
	}

	if m.hooks.udp != nil {
		m.hooks.udp.ObserveUDP(m.iface, sd, udp)
	}
	return nil
}

func (m *Monitor) handleICMPv4Packet(sd SrcDest, payload []byte) error {
	icmp := &m.icmp4
	if err := icmp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeICMPv4, err)
	}

	if m.hooks.icmpv4 != nil {
		m.hooks.icmpv4.ObserveICMPv4(m.iface, sd, icmp)
	}
	return nil
}

func (m *Monitor) handleICMPv6Packet(sd SrcDest, payload []byte) error {
	icmp := &m.icmp6
	if err := icmp.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
		return m.parseFailure(layers.LayerTypeICMPv6, err)
	}

	if m.hooks.icmpv6 != nil {
		m.hooks.icmpv6.ObserveICMPv6(m.iface, sd, icmp)
	}
	return nil
}
