package capture

import (
	"net"
	"net/netip"
	"sort"
	"strings"

	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/jinmuyano/netwatch/monitor"
)

// ErrInterfaceNotFound is returned for a device name pcap does not list.
var ErrInterfaceNotFound = errors.New("capture: interface not found")

// Device is a capture device as listed by pcap.
type Device struct {
	Name        string
	Description string
	Addrs       []netip.Addr
	Loopback    bool
}

// ListInterfaces returns every device pcap can open, sorted by name.
func ListInterfaces() ([]Device, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, errors.Wrap(err, "find devices")
	}

	out := make([]Device, 0, len(devs))
	for _, dev := range devs {
		out = append(out, Device{
			Name:        dev.Name,
			Description: dev.Description,
			Addrs:       deviceAddrs(dev.Addresses),
			Loopback:    dev.Flags&pcapIfLoopback != 0,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// pcap.Interface.Flags bit for loopback devices (PCAP_IF_LOOPBACK).
const pcapIfLoopback = 0x1

// LookupInterface builds the monitor.Interface for name: the pcap addresses
// plus the hardware address when the device has one.
func LookupInterface(name string) (*monitor.Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, errors.Wrap(err, "find devices")
	}

	for _, dev := range devs {
		if dev.Name != name {
			continue
		}

		var mac net.HardwareAddr
		if nif, err := net.InterfaceByName(name); err == nil {
			mac = nif.HardwareAddr
		}
		return buildInterface(dev.Name, mac, dev.Addresses), nil
	}
	return nil, errors.Wrapf(ErrInterfaceNotFound, "%q", name)
}

// DefaultInterface picks the first eth*/en* device with an address, or
// failing that any non-loopback device with an address.
func DefaultInterface() (string, error) {
	devs, err := ListInterfaces()
	if err != nil {
		return "", err
	}

	var fallback string
	for _, dev := range devs {
		if dev.Loopback || len(dev.Addrs) == 0 {
			continue
		}
		if strings.HasPrefix(dev.Name, "eth") || strings.HasPrefix(dev.Name, "en") {
			return dev.Name, nil
		}
		if fallback == "" {
			fallback = dev.Name
		}
	}

	if fallback == "" {
		return "", errors.Wrap(ErrInterfaceNotFound, "no device with an address")
	}
	return fallback, nil
}

func buildInterface(name string, mac net.HardwareAddr, addrs []pcap.InterfaceAddress) *monitor.Interface {
	return &monitor.Interface{
		Name:  name,
		MAC:   mac,
		Addrs: deviceAddrs(addrs),
	}
}

func deviceAddrs(addrs []pcap.InterfaceAddress) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		if a.IP.IsMulticast() {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		// pcap may hand IPv4 addresses back in 16-byte form
		out = append(out, addr.Unmap())
	}
	return out
}
