package monitor

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	localMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	remoteMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	localIP   = net.IP{192, 0, 2, 1}
	remoteIP  = net.IP{203, 0, 113, 5}
)

func testInterface() *Interface {
	return &Interface{
		Name:  "eth-test",
		MAC:   localMAC,
		Addrs: []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("2001:db8::1")},
	}
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return buf.Bytes()
}

func ipv4Frame(t *testing.T, proto layers.IPProtocol, transport ...gopacket.SerializableLayer) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: remoteMAC, DstMAC: localMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: remoteIP, DstIP: localIP}
	for _, l := range transport {
		if tcp, ok := l.(*layers.TCP); ok {
			require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		}
		if udp, ok := l.(*layers.UDP); ok {
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		}
	}
	return serialize(t, append([]gopacket.SerializableLayer{eth, ip}, transport...)...)
}

func tcpFrame(t *testing.T, payloadLen int) []byte {
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 443, Seq: 1, ACK: true, Window: 1024}
	return ipv4Frame(t, layers.IPProtocolTCP, tcp, gopacket.Payload(make([]byte, payloadLen)))
}

type recorder struct {
	calls []string
}

func (r *recorder) options() []optionFunc {
	return []optionFunc{
		WithEthernetObserver(EthernetObserverFunc(func(*Interface, *layers.Ethernet) {
			r.calls = append(r.calls, "ethernet")
		})),
		WithARPObserver(ARPObserverFunc(func(*Interface, *layers.Ethernet, *layers.ARP) {
			r.calls = append(r.calls, "arp")
		})),
		WithIPv4Observer(IPv4ObserverFunc(func(*Interface, *layers.Ethernet, *layers.IPv4) {
			r.calls = append(r.calls, "ipv4")
		})),
		WithIPv6Observer(IPv6ObserverFunc(func(*Interface, *layers.Ethernet, *layers.IPv6) {
			r.calls = append(r.calls, "ipv6")
		})),
		WithTransportObserver(TransportObserverFunc(func(*Interface, SrcDest, layers.IPProtocol, []byte) {
			r.calls = append(r.calls, "transport")
		})),
		WithTCPObserver(TCPObserverFunc(func(*Interface, SrcDest, *layers.TCP) {
			r.calls = append(r.calls, "tcp")
		})),
		WithUDPObserver(UDPObserverFunc(func(*Interface, SrcDest, *layers.UDP) {
			r.calls = append(r.calls, "udp")
		})),
		WithICMPv4Observer(ICMPv4ObserverFunc(func(*Interface, SrcDest, *layers.ICMPv4) {
			r.calls = append(r.calls, "icmpv4")
		})),
		WithICMPv6Observer(ICMPv6ObserverFunc(func(*Interface, SrcDest, *layers.ICMPv6) {
			r.calls = append(r.calls, "icmpv6")
		})),
		WithUnrecognizedObserver(UnrecognizedObserverFunc(func(*Interface, Unrecognized) {
			r.calls = append(r.calls, "unrecognized")
		})),
	}
}

func TestDispatchTCPObserverOrder(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	require.NoError(t, m.Dispatch(tcpFrame(t, 80)))
	assert.Equal(t, []string{"ethernet", "ipv4", "transport", "tcp"}, rec.calls)
	assert.Equal(t, Stats{Frames: 1}, m.Stats())
}

func TestDispatchTruncatedTCP(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	frame := ipv4Frame(t, layers.IPProtocolTCP, gopacket.Payload(make([]byte, 10)))
	err := m.Dispatch(frame)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, layers.LayerTypeTCP, perr.Layer)
	assert.Equal(t, "eth-test", perr.Iface)
	assert.Equal(t, []string{"ethernet", "ipv4", "transport"}, rec.calls)
	assert.Equal(t, uint64(1), m.Stats().ParseFailures)

	// the stream continues with the next frame
	rec.calls = nil
	require.NoError(t, m.Dispatch(tcpFrame(t, 1)))
	assert.Equal(t, []string{"ethernet", "ipv4", "transport", "tcp"}, rec.calls)
	assert.Equal(t, uint64(1), m.Stats().ParseFailures)
	assert.Equal(t, uint64(2), m.Stats().Frames)
}

func TestDispatchShortEthernet(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	err := m.Dispatch([]byte{0x01, 0x02, 0x03})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, layers.LayerTypeEthernet, perr.Layer)
	assert.Empty(t, rec.calls)
}

func TestDispatchNilObserversDoNotStopDecoding(t *testing.T) {
	var tcpSeen int
	m := New(testInterface(), WithTCPObserver(TCPObserverFunc(func(_ *Interface, sd SrcDest, tcp *layers.TCP) {
		tcpSeen++
		assert.Equal(t, netip.MustParseAddr("192.0.2.1"), sd.Dst)
		assert.Equal(t, layers.TCPPort(443), tcp.DstPort)
		assert.Len(t, tcp.Payload, 33)
	})))

	require.NoError(t, m.Dispatch(tcpFrame(t, 33)))
	assert.Equal(t, 1, tcpSeen)
}

func TestDispatchUDP(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	udp := &layers.UDP{SrcPort: 53, DstPort: 40000}
	require.NoError(t, m.Dispatch(ipv4Frame(t, layers.IPProtocolUDP, udp, gopacket.Payload([]byte("answer")))))
	assert.Equal(t, []string{"ethernet", "ipv4", "transport", "udp"}, rec.calls)
}

func TestDispatchICMPv4(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
	require.NoError(t, m.Dispatch(ipv4Frame(t, layers.IPProtocolICMPv4, icmp)))
	assert.Equal(t, []string{"ethernet", "ipv4", "transport", "icmpv4"}, rec.calls)
}

func TestDispatchIPv6ICMPv6(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	eth := &layers.Ethernet{SrcMAC: remoteMAC, DstMAC: localMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   64,
		SrcIP:      net.ParseIP("2001:db8::2"),
		DstIP:      net.ParseIP("2001:db8::1"),
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))

	frame := serialize(t, eth, ip, icmp, gopacket.Payload([]byte{0, 1, 0, 1}))
	require.NoError(t, m.Dispatch(frame))
	assert.Equal(t, []string{"ethernet", "ipv6", "transport", "icmpv6"}, rec.calls)
}

// ipv6HopByHopUDPFrame builds Ethernet/IPv6/UDP and splices an 8 byte
// hop-by-hop header carrying one PadN option in front of the UDP header.
func ipv6HopByHopUDPFrame(t *testing.T, srcPort, dstPort layers.UDPPort) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: remoteMAC, DstMAC: localMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   1,
		SrcIP:      net.ParseIP("2001:db8::2"),
		DstIP:      net.ParseIP("2001:db8::1"),
	}
	udp := &layers.UDP{SrcPort: srcPort, DstPort: dstPort}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	plain := serialize(t, eth, ip, udp, gopacket.Payload([]byte("query")))

	const ipStart = 14
	hbh := []byte{byte(layers.IPProtocolUDP), 0, 1, 4, 0, 0, 0, 0}

	frame := make([]byte, 0, len(plain)+len(hbh))
	frame = append(frame, plain[:ipStart+40]...)
	frame = append(frame, hbh...)
	frame = append(frame, plain[ipStart+40:]...)

	frame[ipStart+6] = byte(layers.IPProtocolIPv6HopByHop)
	length := binary.BigEndian.Uint16(frame[ipStart+4:])
	binary.BigEndian.PutUint16(frame[ipStart+4:], length+uint16(len(hbh)))
	return frame
}

func TestDispatchIPv6HopByHopUDP(t *testing.T) {
	var ports []layers.UDPPort
	m := New(testInterface(), WithUDPObserver(UDPObserverFunc(func(_ *Interface, sd SrcDest, udp *layers.UDP) {
		ports = append(ports, udp.SrcPort, udp.DstPort)
		assert.Equal(t, netip.MustParseAddr("2001:db8::1"), sd.Dst)
	})))

	require.NoError(t, m.Dispatch(ipv6HopByHopUDPFrame(t, 40000, 5353)))
	assert.Equal(t, []layers.UDPPort{40000, 5353}, ports)
	assert.Equal(t, Stats{Frames: 1}, m.Stats())
}

func TestDispatchARP(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	eth := &layers.Ethernet{SrcMAC: remoteMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   remoteMAC,
		SourceProtAddress: remoteIP.To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    localIP.To4(),
	}
	require.NoError(t, m.Dispatch(serialize(t, eth, arp)))
	assert.Equal(t, []string{"ethernet", "arp"}, rec.calls)
}

func TestDispatchUnknownEtherType(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	frame := make([]byte, 60)
	copy(frame[0:6], localMAC)
	copy(frame[6:12], remoteMAC)
	frame[12], frame[13] = 0x88, 0xcc // LLDP

	require.NoError(t, m.Dispatch(frame))
	assert.Equal(t, []string{"ethernet", "unrecognized"}, rec.calls)
	assert.Equal(t, uint64(1), m.Stats().Unrecognized)
	assert.Zero(t, m.Stats().ParseFailures)
}

func TestDispatchUnknownIPProtocol(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	frame := ipv4Frame(t, layers.IPProtocolGRE, gopacket.Payload([]byte{0, 0, 0x08, 0}))
	require.NoError(t, m.Dispatch(frame))
	assert.Equal(t, []string{"ethernet", "ipv4", "transport", "unrecognized"}, rec.calls)
}

func TestDispatchLinkRawIP(t *testing.T) {
	rec := &recorder{}
	m := New(testInterface(), rec.options()...)

	frame := tcpFrame(t, 5)
	rawIP := frame[ethernetHeaderLen:]
	require.NoError(t, m.DispatchLink(layers.LinkTypeRaw, rawIP))
	assert.Equal(t, []string{"ethernet", "ipv4", "transport", "tcp"}, rec.calls)

	err := m.DispatchLink(layers.LinkTypeRaw, []byte{0x10, 0x00})
	var perr *ParseError
	assert.True(t, errors.As(err, &perr))

	rec.calls = nil
	require.NoError(t, m.DispatchLink(layers.LinkTypeEthernet, frame))
	assert.Equal(t, []string{"ethernet", "ipv4", "transport", "tcp"}, rec.calls)
}

func TestNewLoggerDispatches(t *testing.T) {
	m := NewLogger(testInterface())
	assert.NoError(t, m.Dispatch(tcpFrame(t, 10)))
	assert.Equal(t, uint64(1), m.Stats().Frames)
}
