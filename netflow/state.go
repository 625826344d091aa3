package netflow

import (
	"github.com/google/gopacket/layers"

	"github.com/jinmuyano/netwatch/monitor"
	"github.com/jinmuyano/netwatch/traffic"
)

// State is the traffic shared between the capture goroutine and the
// reporter. Each structure has its own lock.
type State struct {
	Total  *traffic.Counter
	Ports  *traffic.PortTable
	Ledger *traffic.Ledger
}

func NewState() *State {
	return &State{
		Total:  traffic.NewCounter(),
		Ports:  traffic.NewPortTable(),
		Ledger: traffic.NewLedger(),
	}
}

// accountant turns decoded layers into State increments. The interface-wide
// total is counted at the Ethernet layer when the interface has a MAC and at
// the IP layer otherwise (raw IP links carry a synthetic zero MAC).
type accountant struct {
	state  *State
	logger *monitor.PacketLogger
}

func (a *accountant) ObserveEthernet(iface *monitor.Interface, eth *layers.Ethernet) {
	size := uint64(len(eth.Contents) + len(eth.Payload))
	a.state.Total.Add(traffic.DirectionOf(monitor.EthernetIncoming(eth, iface)), size)
}

func (a *accountant) ObserveIPv4(iface *monitor.Interface, _ *layers.Ethernet, ip *layers.IPv4) {
	size := uint64(len(ip.Contents) + len(ip.Payload))
	a.state.Total.Add(traffic.DirectionOf(monitor.IPv4Incoming(ip, iface)), size)
}

func (a *accountant) ObserveIPv6(iface *monitor.Interface, _ *layers.Ethernet, ip *layers.IPv6) {
	size := uint64(len(ip.Contents) + len(ip.Payload))
	a.state.Total.Add(traffic.DirectionOf(monitor.IPv6Incoming(ip, iface)), size)
}

// ObserveTCP charges the segment to the local port: the destination port for
// inbound segments, the source port for outbound ones.
func (a *accountant) ObserveTCP(iface *monitor.Interface, sd monitor.SrcDest, tcp *layers.TCP) {
	size := uint64(len(tcp.Contents) + len(tcp.Payload))
	if monitor.IsIncomingIP(sd.Dst, iface) {
		a.state.Ports.IncrIncoming(uint16(tcp.DstPort), size)
	} else {
		a.state.Ports.IncrOutgoing(uint16(tcp.SrcPort), size)
	}

	if a.logger != nil {
		a.logger.ObserveTCP(iface, sd, tcp)
	}
}

func (a *accountant) ObserveUDP(iface *monitor.Interface, sd monitor.SrcDest, udp *layers.UDP) {
	size := uint64(len(udp.Contents) + len(udp.Payload))
	if monitor.IsIncomingIP(sd.Dst, iface) {
		a.state.Ports.IncrIncoming(uint16(udp.DstPort), size)
	} else {
		a.state.Ports.IncrOutgoing(uint16(udp.SrcPort), size)
	}

	if a.logger != nil {
		a.logger.ObserveUDP(iface, sd, udp)
	}
}

// NewAccountingMonitor returns a Monitor that feeds state. With debug set,
// every packet is also logged.
func NewAccountingMonitor(iface *monitor.Interface, state *State, debug bool) *monitor.Monitor {
	a := &accountant{state: state}

	opts := []monitor.Option{
		monitor.WithTCPObserver(a),
		monitor.WithUDPObserver(a),
		monitor.WithUnrecognizedObserver(monitor.UnrecognizedObserverFunc(monitor.LogUnrecognized)),
	}
	if iface != nil && len(iface.MAC) > 0 {
		opts = append(opts, monitor.WithEthernetObserver(a))
	} else {
		opts = append(opts, monitor.WithIPv4Observer(a), monitor.WithIPv6Observer(a))
	}

	if debug {
		a.logger = &monitor.PacketLogger{}
		opts = append(opts,
			monitor.WithARPObserver(a.logger),
			monitor.WithICMPv4Observer(a.logger),
			monitor.WithICMPv6Observer(a.logger),
		)
	}

	return monitor.New(iface, opts...)
}
