package capture

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket/pcap"
	"github.com/stretchr/testify/assert"

	"github.com/jinmuyano/netwatch/monitor"
)

func TestBuildInterface(t *testing.T) {
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	iface := buildInterface("eth0", mac, []pcap.InterfaceAddress{
		{IP: net.IPv4(192, 0, 2, 1)},
		{IP: net.ParseIP("2001:db8::1")},
		{IP: net.ParseIP("ff02::1")},
		{IP: nil},
	})

	assert.Equal(t, "eth0", iface.Name)
	assert.Equal(t, mac, iface.MAC)
	assert.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.0.2.1"),
		netip.MustParseAddr("2001:db8::1"),
	}, iface.Addrs)

	// a v4 destination must match the unmapped address
	assert.True(t, monitor.IsIncomingIP(netip.MustParseAddr("192.0.2.1"), iface))
}

func TestBuildInterfaceWithoutMAC(t *testing.T) {
	iface := buildInterface("tun0", nil, []pcap.InterfaceAddress{{IP: net.IP{10, 8, 0, 1}}})
	assert.Empty(t, iface.MAC)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.8.0.1")}, iface.Addrs)
}
