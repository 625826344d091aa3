package netflow

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/jinmuyano/netwatch"
	"github.com/jinmuyano/netwatch/logging"
)

// LogSink writes each report through the logger in human units.
type LogSink struct {
	// Limit caps the number of process lines, 0 means all.
	Limit int
}

func NewLogSink(limit int) *LogSink {
	return &LogSink{Limit: limit}
}

func (s *LogSink) Emit(r *netwatch.Report) {
	fields := logrus.Fields{
		"frames":   r.Frames,
		"strategy": r.Strategy,
		"stale":    r.StaleAttribution,
	}
	if r.Capture != nil {
		fields["dropped"] = r.Capture.Dropped + r.Capture.IfDropped
	}
	logging.InfoWithFields(fields, "total: in %s/s (%s), out %s/s (%s); unknown: in %s, out %s",
		humanize.Bytes(r.TotalRate.InRate), humanize.Bytes(r.Total.Incoming),
		humanize.Bytes(r.TotalRate.OutRate), humanize.Bytes(r.Total.Outgoing),
		humanize.Bytes(r.Unknown.Incoming), humanize.Bytes(r.Unknown.Outgoing))

	for i, p := range r.Processes {
		if s.Limit > 0 && i >= s.Limit {
			break
		}
		logging.InfoWithFields(logrus.Fields{"pid": p.PID},
			"%s: in %s/s, out %s/s",
			displayNames(p.Names), humanize.Bytes(p.BandWidth.InRate), humanize.Bytes(p.BandWidth.OutRate))
	}

	for _, port := range r.Ports {
		logging.DebugWithFields(logrus.Fields{"port": port.Port, "processes": len(port.Processes)},
			"port traffic: in %s, out %s",
			humanize.Bytes(port.Transfer.Incoming), humanize.Bytes(port.Transfer.Outgoing))
	}
}

// displayNames collapses the recorded name history to its distinct values.
func displayNames(names []string) string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return strings.Join(out, ", ")
}

// JSONSink writes one JSON document per report, newline separated.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Emit(r *netwatch.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enc.Encode(r); err != nil {
		logging.Errorf("write json report: %v", err)
	}
}
