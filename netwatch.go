// Package netwatch holds the report types shared by the capture pipeline and
// its consumers.
package netwatch

import (
	"time"

	"github.com/jinmuyano/netwatch/monitor"
	"github.com/jinmuyano/netwatch/process"
	"github.com/jinmuyano/netwatch/traffic"
)

// BandWidth is a byte rate per second.
type BandWidth struct {
	InRate  uint64 `json:"in_rate"`
	OutRate uint64 `json:"out_rate"`
}

// Result maps pid to its bandwidth over the last interval.
type Result map[int32]BandWidth

type PortReport struct {
	Port      uint16            `json:"port"`
	Transfer  traffic.Transfer  `json:"transfer"`
	Processes []process.Process `json:"processes,omitempty"`
}

type ProcessReport struct {
	PID       int32            `json:"pid"`
	Names     []string         `json:"names"`
	Transfer  traffic.Transfer `json:"transfer"`
	BandWidth BandWidth        `json:"bandwidth"`
}

// CaptureStats are the kernel counters of a live capture since it started.
type CaptureStats struct {
	Received  int64 `json:"received"`
	Dropped   int64 `json:"dropped"`
	IfDropped int64 `json:"if_dropped"`
}

// Report is the joined snapshot of one reporter tick.
type Report struct {
	Timestamp time.Time        `json:"timestamp"`
	Interval  time.Duration    `json:"interval"`
	Total     traffic.Transfer `json:"total"`
	TotalRate BandWidth        `json:"total_rate"`
	// Ports holds the ports with traffic in the interval, ascending.
	Ports     []PortReport     `json:"ports"`
	Processes []ProcessReport  `json:"processes"`
	Unknown   traffic.Transfer `json:"unknown"`

	// Strategy is the attribution strategy of the refresh, empty if the
	// refresh failed and StaleAttribution is set.
	Strategy         string        `json:"strategy,omitempty"`
	StaleAttribution bool          `json:"stale_attribution"`
	Frames           int64         `json:"frames"`
	Stats            monitor.Stats `json:"stats"`
	// Capture is nil for sources without kernel counters, e.g. pcap files.
	Capture *CaptureStats `json:"capture,omitempty"`
}

// Result returns the per-process bandwidth of the report.
func (r *Report) Result() Result {
	res := make(Result, len(r.Processes))
	for _, p := range r.Processes {
		res[p.PID] = p.BandWidth
	}
	return res
}

// RateOf converts t into a BandWidth over interval. Intervals shorter than a
// millisecond return traffic.ErrZeroInterval.
func RateOf(t traffic.Transfer, interval time.Duration) (BandWidth, error) {
	in, out, err := t.Rate(uint64(interval.Milliseconds()))
	if err != nil {
		return BandWidth{}, err
	}
	return BandWidth{InRate: in, OutRate: out}, nil
}

// ReportSink receives one Report per tick.
type ReportSink interface {
	Emit(r *Report)
}

type ReportSinkFunc func(r *Report)

func (f ReportSinkFunc) Emit(r *Report) {
	f(r)
}

type Client interface {
	Start() error          // start capture and reporting
	Stop()                 // stop and release the capture handle
	LastReport() *Report   // latest tick, nil before the first one
	GetBandWidth() Result  // per-process bandwidth of the latest tick
	Done() <-chan struct{} // closed on Stop or fatal capture error
}
