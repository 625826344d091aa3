// Package capture opens libpcap handles and describes capture interfaces.
package capture

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"

	"github.com/jinmuyano/netwatch"
	"github.com/jinmuyano/netwatch/netflow"
)

const (
	DefaultSnapLen = 65536

	// readTimeout bounds each blocking read so the capture loop can notice
	// cancellation.
	readTimeout = time.Second
)

type Options struct {
	SnapLen     int32
	Promiscuous bool
	// Filter is a BPF expression, e.g. "port 80" or "src host 10.0.0.1".
	Filter string
}

// Handle is a netflow.Source over a pcap handle.
type Handle struct {
	handle *pcap.Handle

	mu     sync.Mutex
	closed bool
}

var (
	_ netflow.Source      = (*Handle)(nil)
	_ netflow.StatsSource = (*Handle)(nil)
)

// OpenLive starts a capture on device.
func OpenLive(device string, opts Options) (*Handle, error) {
	if opts.SnapLen <= 0 {
		opts.SnapLen = DefaultSnapLen
	}

	// if captured size >= snaplen or the read timeout expires, return to the caller.
	handle, err := pcap.OpenLive(device, opts.SnapLen, opts.Promiscuous, readTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", device)
	}

	if err := setFilter(handle, opts.Filter); err != nil {
		handle.Close()
		return nil, err
	}
	return &Handle{handle: handle}, nil
}

// OpenOffline replays a pcap file.
func OpenOffline(path string, filter string) (*Handle, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	if err := setFilter(handle, filter); err != nil {
		handle.Close()
		return nil, err
	}
	return &Handle{handle: handle}, nil
}

func setFilter(handle *pcap.Handle, filter string) error {
	filter = strings.TrimSpace(filter)
	if len(filter) == 0 {
		return nil
	}
	if strings.HasPrefix(filter, "and ") || strings.HasPrefix(filter, "or ") {
		return errors.Errorf("invalid pcap filter %q", filter)
	}

	if err := handle.SetBPFFilter(filter); err != nil {
		return errors.Wrapf(err, "set filter %q", filter)
	}
	return nil
}

// ReadPacketData maps the pcap timeout and end-of-file conditions onto
// netflow.ErrReadTimeout and io.EOF.
func (h *Handle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := h.handle.ReadPacketData()
	switch err {
	case nil:
		return data, ci, nil
	case pcap.NextErrorTimeoutExpired:
		return nil, ci, netflow.ErrReadTimeout
	case pcap.NextErrorNoMorePackets, io.EOF:
		return nil, ci, io.EOF
	default:
		return nil, ci, err
	}
}

func (h *Handle) LinkType() layers.LinkType {
	return h.handle.LinkType()
}

// CaptureStats returns the kernel receive and drop counters. Offline
// handles have none and return an error.
func (h *Handle) CaptureStats() (netwatch.CaptureStats, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return netwatch.CaptureStats{}, errors.New("capture handle closed")
	}
	st, err := h.handle.Stats()
	if err != nil {
		return netwatch.CaptureStats{}, errors.Wrap(err, "pcap stats")
	}
	return captureStats(st), nil
}

func captureStats(st *pcap.Stats) netwatch.CaptureStats {
	return netwatch.CaptureStats{
		Received:  int64(st.PacketsReceived),
		Dropped:   int64(st.PacketsDropped),
		IfDropped: int64(st.PacketsIfDropped),
	}
}

func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	h.handle.Close()
}
