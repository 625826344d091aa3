// Package netflow runs the capture and reporting goroutines over one
// interface: frames are read from a Source, dispatched through an accounting
// Monitor into State, and a Reporter turns State into periodic Reports.
package netflow

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/jinmuyano/netwatch"
	"github.com/jinmuyano/netwatch/logging"
	"github.com/jinmuyano/netwatch/monitor"
	"github.com/jinmuyano/netwatch/process"
)

var (
	// ErrCaptureFatal ends the capture goroutine; Wait returns it wrapped.
	ErrCaptureFatal = errors.New("netflow: capture failed")

	// ErrReadTimeout is returned by a Source when no frame arrived within
	// its read timeout. It is a wake-up, not a failure.
	ErrReadTimeout = errors.New("netflow: read timeout")
)

// Source yields raw frames of one link type.
type Source interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// StatsSource is implemented by sources that expose kernel capture counters.
type StatsSource interface {
	CaptureStats() (netwatch.CaptureStats, error)
}

const (
	defaultSyncInterval = time.Duration(1 * time.Second)
	defaultPcapSnapLen  = 65536
)

type Netflow struct {
	ctx    context.Context
	cancel context.CancelFunc

	src   Source
	iface *monitor.Interface

	state      *State
	monitor    *monitor.Monitor
	reporter   *Reporter
	attributor Refresher
	sink       netwatch.ReportSink

	counter      int64
	syncInterval time.Duration

	pcapFileName string
	pcapFile     *os.File
	pcapWriter   *pcapgo.Writer

	// for debug
	debugMode bool

	// for cgroup
	cpuCore float64
	memMB   int

	group    errgroup.Group
	started  int32
	stopOnce sync.Once
	exitFunc []func()
}

var _ netwatch.Client = (*Netflow)(nil)

type optionFunc func(*Netflow) error

// Option lets callers outside the package collect options in a slice.
type Option = optionFunc

func WithCtx(ctx context.Context) optionFunc {
	return func(o *Netflow) error {
		cctx, cancel := context.WithCancel(ctx)
		o.ctx = cctx
		o.cancel = cancel
		return nil
	}
}

func WithSyncInterval(dur time.Duration) optionFunc {
	return func(o *Netflow) error {
		if dur <= 0 {
			return errors.New("invalid sync interval")
		}

		o.syncInterval = dur
		return nil
	}
}

func WithReportSink(sink netwatch.ReportSink) optionFunc {
	return func(o *Netflow) error {
		if sink == nil {
			return errors.New("invalid report sink")
		}

		o.sink = sink
		return nil
	}
}

func WithAttributor(r Refresher) optionFunc {
	return func(o *Netflow) error {
		if r == nil {
			return errors.New("invalid attributor")
		}

		o.attributor = r
		return nil
	}
}

// WithStorePcap writes every captured frame to fpath in pcap format.
func WithStorePcap(fpath string) optionFunc {
	return func(o *Netflow) error {
		o.pcapFileName = fpath
		return nil
	}
}

// WithLimitCgroup use cgroup to limit cpu and mem, param cpu's unit is cpu core num, mem's unit is MB
func WithLimitCgroup(cpu float64, mem int) optionFunc {
	return func(o *Netflow) error {
		if cpu < 0 || mem < 0 {
			return errors.New("invalid cgroup limit")
		}

		o.cpuCore = cpu
		o.memMB = mem
		return nil
	}
}

// WithOpenDebug logs every decoded packet at debug level.
func WithOpenDebug() optionFunc {
	return func(o *Netflow) error {
		o.debugMode = true
		return nil
	}
}

func NewNetflow(src Source, iface *monitor.Interface, opts ...optionFunc) (*Netflow, error) {
	if src == nil {
		return nil, errors.New("nil capture source")
	}
	if iface == nil {
		return nil, errors.New("nil interface")
	}

	ctx, cancel := context.WithCancel(context.Background())
	nf := &Netflow{
		ctx:          ctx,
		cancel:       cancel,
		src:          src,
		iface:        iface,
		syncInterval: defaultSyncInterval,
	}

	for _, opt := range opts {
		err := opt(nf)
		if err != nil {
			return nil, err
		}
	}

	if nf.attributor == nil {
		nf.attributor = process.NewAttributor()
	}
	if nf.sink == nil {
		nf.sink = NewLogSink(0)
	}

	nf.state = NewState()
	nf.monitor = NewAccountingMonitor(iface, nf.state, nf.debugMode)
	nf.reporter = NewReporter(nf.state, nf.attributor, nf.sink, nf.syncInterval)
	nf.reporter.stats = func() (int64, monitor.Stats) {
		return nf.LoadCounter(), nf.monitor.Stats()
	}
	if ss, ok := src.(StatsSource); ok {
		nf.reporter.captureStats = func() *netwatch.CaptureStats {
			cs, err := ss.CaptureStats()
			if err != nil {
				logging.Debugf("capture stats: %v", err)
				return nil
			}
			return &cs
		}
	}

	return nf, nil
}

func (nf *Netflow) Done() <-chan struct{} {
	return nf.ctx.Done()
}

func (nf *Netflow) State() *State {
	return nf.state
}

func (nf *Netflow) Reporter() *Reporter {
	return nf.reporter
}

func (nf *Netflow) incrCounter() {
	atomic.AddInt64(&nf.counter, 1)
}

// LoadCounter returns the number of frames read so far.
func (nf *Netflow) LoadCounter() int64 {
	return atomic.LoadInt64(&nf.counter)
}

func (nf *Netflow) LastReport() *netwatch.Report {
	return nf.reporter.Last()
}

func (nf *Netflow) GetBandWidth() netwatch.Result {
	r := nf.LastReport()
	if r == nil {
		return netwatch.Result{}
	}
	return r.Result()
}

func (nf *Netflow) configureCgroups() error {
	if nf.cpuCore == 0 && nf.memMB == 0 {
		return nil
	}

	cg := &cgroupsLimiter{}
	pid := os.Getpid()

	err := cg.configure(pid, nf.cpuCore, nf.memMB)
	nf.exitFunc = append(nf.exitFunc, func() {
		cg.free()
	})

	return err
}

func (nf *Netflow) configurePersist() error {
	if len(nf.pcapFileName) == 0 {
		return nil
	}

	f, err := os.Create(nf.pcapFileName)
	if err != nil {
		return errors.Wrapf(err, "create pcap file %s", nf.pcapFileName)
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(defaultPcapSnapLen, nf.src.LinkType()); err != nil {
		f.Close()
		return errors.Wrapf(err, "write pcap header %s", nf.pcapFileName)
	}

	nf.pcapFile = f
	nf.pcapWriter = w
	nf.exitFunc = append(nf.exitFunc, func() {
		nf.pcapFile.Close()
	})
	return nil
}

// Start launches the capture and reporter goroutines. It fails if the pcap
// dump or the cgroup limit cannot be set up.
func (nf *Netflow) Start() error {
	if !atomic.CompareAndSwapInt32(&nf.started, 0, 1) {
		return errors.New("netflow already started")
	}

	err := nf.configurePersist()
	if err != nil {
		nf.finalize()
		return err
	}

	// linux cpu/mem by cgroup
	err = nf.configureCgroups()
	if err != nil {
		nf.finalize()
		return err
	}

	err = nf.reporter.Start()
	if err != nil {
		nf.finalize()
		return errors.Wrap(err, "schedule reporter")
	}

	nf.group.Go(nf.captureLoop)
	nf.group.Go(func() error {
		<-nf.ctx.Done()
		nf.reporter.Stop()
		return nil
	})

	logging.Iface(nf.iface.Name).Infof(
		"capture started, report every %s", nf.reporter.Interval())
	return nil
}

// Stop cancels both goroutines, waits for them and releases the pcap file
// and cgroup.
func (nf *Netflow) Stop() {
	nf.stopOnce.Do(func() {
		nf.cancel()
		nf.group.Wait()
		nf.finalize()
	})
}

// Wait blocks until both goroutines exit and returns the capture error, if
// any.
func (nf *Netflow) Wait() error {
	return nf.group.Wait()
}

func (nf *Netflow) finalize() {
	for _, fn := range nf.exitFunc {
		fn()
	}
	nf.exitFunc = nil
}

// captureLoop reads frames until the context ends, the source is exhausted
// or fails. Either way the Netflow context is cancelled on return.
func (nf *Netflow) captureLoop() error {
	defer nf.cancel()
	defer nf.closeSource()

	fields := logging.IfaceFields(nf.iface.Name)
	linkType := nf.src.LinkType()

	for {
		select {
		case <-nf.ctx.Done():
			logging.DebugWithFields(fields, "capture: ctx done")
			return nil
		default:
		}

		data, ci, err := nf.src.ReadPacketData()
		switch {
		case err == nil:
		case errors.Is(err, ErrReadTimeout):
			continue
		case errors.Is(err, io.EOF):
			logging.InfoWithFields(fields, "capture: end of input after %d frames", nf.LoadCounter())
			return nil
		default:
			logging.ErrorWithFields(fields, "capture: %v", err)
			return errors.Wrapf(ErrCaptureFatal, "[%s]: %v", nf.iface.Name, err)
		}

		nf.incrCounter()

		if nf.pcapWriter != nil {
			if err := nf.pcapWriter.WritePacket(ci, data); err != nil {
				logging.WarnWithFields(fields, "write pcap: %v", err)
			}
		}

		if err := nf.monitor.DispatchLink(linkType, data); err != nil {
			logging.DebugWithFields(fields, "%v", err)
		}
	}
}

func (nf *Netflow) closeSource() {
	if c, ok := nf.src.(interface{ Close() }); ok {
		c.Close()
	}
}
