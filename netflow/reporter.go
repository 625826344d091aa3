package netflow

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/jinmuyano/netwatch"
	"github.com/jinmuyano/netwatch/logging"
	"github.com/jinmuyano/netwatch/monitor"
	"github.com/jinmuyano/netwatch/process"
	"github.com/jinmuyano/netwatch/traffic"
)

const minReportInterval = time.Second

// Refresher rebuilds the port to process map. *process.Attributor is the
// production implementation.
type Refresher interface {
	Refresh() (process.PortMap, error)
}

type mappingHolder interface {
	Mapping() *process.Mapping
}

type strategyReporter interface {
	LastStrategy() process.Strategy
}

// Reporter drains State on a fixed cadence, joins the port traffic with a
// fresh attribution and emits a Report.
type Reporter struct {
	state      *State
	attributor Refresher
	sink       netwatch.ReportSink
	interval   time.Duration

	// mapping keeps the last good PortMap for ticks whose refresh fails.
	mapping    *process.Mapping
	ownMapping bool

	stats        func() (int64, monitor.Stats)
	captureStats func() *netwatch.CaptureStats

	crontab *cron.Cron
	ticking sync.Mutex
	stopped bool

	mu   sync.RWMutex
	last *netwatch.Report
}

// NewReporter returns a Reporter. The scheduler ticks on whole seconds, so
// intervals are truncated to a whole second and raised to at least one;
// rates are computed over the interval that is actually scheduled.
func NewReporter(state *State, attributor Refresher, sink netwatch.ReportSink, interval time.Duration) *Reporter {
	interval = interval.Truncate(time.Second)
	if interval < minReportInterval {
		interval = minReportInterval
	}

	r := &Reporter{
		state:      state,
		attributor: attributor,
		sink:       sink,
		interval:   interval,
	}

	if mh, ok := attributor.(mappingHolder); ok && mh.Mapping() != nil {
		r.mapping = mh.Mapping()
	} else {
		r.mapping = process.NewMapping()
		r.ownMapping = true
	}
	return r
}

func (r *Reporter) Interval() time.Duration {
	return r.interval
}

// Start schedules Tick every interval. A tick still running when the next
// one is due causes that one to be skipped.
func (r *Reporter) Start() error {
	r.crontab = cron.New()
	r.crontab.Schedule(cron.Every(r.interval), cron.FuncJob(r.run))
	r.crontab.Start()
	return nil
}

// Stop stops the scheduler and waits for a tick in progress to finish.
// Scheduled ticks that fire afterwards do nothing.
func (r *Reporter) Stop() {
	if r.crontab != nil {
		r.crontab.Stop()
	}

	r.ticking.Lock()
	r.stopped = true
	r.ticking.Unlock()
}

func (r *Reporter) run() {
	if !r.ticking.TryLock() {
		logging.Warnf("report tick skipped, previous tick still running")
		return
	}
	defer r.ticking.Unlock()

	if r.stopped {
		return
	}

	r.Tick()
}

// Last returns the Report of the latest tick, nil before the first one.
func (r *Reporter) Last() *netwatch.Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.last
}

// Tick runs one reporting cycle. Traffic locks are held only inside the
// drains; the attribution refresh and the join run without them.
func (r *Reporter) Tick() *netwatch.Report {
	report := &netwatch.Report{
		Timestamp: time.Now(),
		Interval:  r.interval,
	}

	report.Total = r.state.Total.Drain()
	ports := r.state.Ports.Drain()

	pm := r.refresh(report)

	for port, t := range ports {
		if t.IsZero() {
			continue
		}

		procs := pm[port]
		if len(procs) == 0 {
			r.state.Ledger.RecordUnknown(t)
		}
		for _, p := range procs {
			r.state.Ledger.Record(p.PID, t, p.Name)
		}

		report.Ports = append(report.Ports, netwatch.PortReport{
			Port:      port,
			Transfer:  t,
			Processes: procs,
		})
	}
	sort.Slice(report.Ports, func(i, j int) bool {
		return report.Ports[i].Port < report.Ports[j].Port
	})

	snap := r.state.Ledger.Drain()
	report.Unknown = snap.Unknown
	report.Processes = make([]netwatch.ProcessReport, 0, len(snap.Processes))
	for _, e := range snap.Processes {
		report.Processes = append(report.Processes, netwatch.ProcessReport{
			PID:       e.PID,
			Names:     e.Names,
			Transfer:  e.Transfer,
			BandWidth: r.rate(e.Transfer),
		})
	}
	report.TotalRate = r.rate(report.Total)

	if r.stats != nil {
		report.Frames, report.Stats = r.stats()
	}
	if r.captureStats != nil {
		report.Capture = r.captureStats()
	}

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Emit(report)
	}
	return report
}

func (r *Reporter) rate(t traffic.Transfer) netwatch.BandWidth {
	bw, err := netwatch.RateOf(t, r.interval)
	if err != nil {
		logging.Errorf("rate over %s: %v", r.interval, err)
	}
	return bw
}

func (r *Reporter) refresh(report *netwatch.Report) process.PortMap {
	if r.attributor == nil {
		return nil
	}

	pm, err := r.attributor.Refresh()
	if err != nil {
		logging.Warnf("refresh attribution, keeping previous map: %v", err)
		report.StaleAttribution = true
		return r.mapping.Current()
	}

	if r.ownMapping {
		r.mapping.Update(pm)
	}
	if sr, ok := r.attributor.(strategyReporter); ok {
		report.Strategy = sr.LastStrategy().String()
	}
	return pm
}
