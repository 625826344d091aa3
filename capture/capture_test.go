package capture

import (
	"testing"

	"github.com/google/gopacket/pcap"
	"github.com/stretchr/testify/assert"

	"github.com/jinmuyano/netwatch"
)

func TestCaptureStatsConversion(t *testing.T) {
	got := captureStats(&pcap.Stats{PacketsReceived: 120, PacketsDropped: 3, PacketsIfDropped: 1})
	assert.Equal(t, netwatch.CaptureStats{Received: 120, Dropped: 3, IfDropped: 1}, got)
}

func TestClosedHandle(t *testing.T) {
	h := &Handle{closed: true}

	_, err := h.CaptureStats()
	assert.Error(t, err)

	// a second Close must not reach the released pcap handle
	assert.NotPanics(t, h.Close)
}
