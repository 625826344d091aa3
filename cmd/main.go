package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"

	"github.com/jinmuyano/netwatch"
	"github.com/jinmuyano/netwatch/capture"
	"github.com/jinmuyano/netwatch/config"
	"github.com/jinmuyano/netwatch/logging"
	"github.com/jinmuyano/netwatch/monitor"
	"github.com/jinmuyano/netwatch/netflow"
	"github.com/jinmuyano/netwatch/process"
)

type cliFlags struct {
	configPath string
	iface      string
	list       bool
	dump       bool
	readFile   string
	localAddrs string
	writeFile  string
	interval   time.Duration
	format     string
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("netwatch", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "config file (.json, .yaml, .yml)")
	fs.StringVar(&f.iface, "i", "", "interface to capture on")
	fs.BoolVar(&f.list, "list", false, "list capture interfaces and exit")
	fs.BoolVar(&f.dump, "dump", false, "log every decoded packet")
	fs.StringVar(&f.readFile, "read", "", "replay a pcap file instead of capturing live")
	fs.StringVar(&f.localAddrs, "local", "", "comma separated local addresses for -read")
	fs.StringVar(&f.writeFile, "w", "", "write captured frames to a pcap file")
	fs.DurationVar(&f.interval, "interval", 0, "report interval, at least 1s")
	fs.StringVar(&f.format, "format", "", "report format: text or json")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// loadConfig layers defaults, the config file, NETWATCH_* variables and
// finally the command line flags.
func loadConfig(f *cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		if err := config.LoadFromFile(f.configPath, cfg); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if f.iface != "" {
		cfg.Capture.Interface = f.iface
	}
	if f.writeFile != "" {
		cfg.Capture.PcapFile = f.writeFile
	}
	if f.dump {
		cfg.Capture.Debug = true
		cfg.Logging.Level = "debug"
	}
	if f.interval != 0 {
		cfg.Report.Interval = f.interval
	}
	if f.format != "" {
		cfg.Report.Format = f.format
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func printInterfaces(w io.Writer) error {
	devs, err := capture.ListInterfaces()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESSES\tDESCRIPTION")
	for _, dev := range devs {
		addrs := make([]string, 0, len(dev.Addrs))
		for _, a := range dev.Addrs {
			addrs = append(addrs, a.String())
		}
		name := dev.Name
		if dev.Loopback {
			name += " (loopback)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, strings.Join(addrs, ","), dev.Description)
	}
	return tw.Flush()
}

func parseLocalAddrs(s string) ([]netip.Addr, error) {
	var out []netip.Addr
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			return nil, errors.Wrapf(err, "local address %q", field)
		}
		out = append(out, addr.Unmap())
	}
	return out, nil
}

// replayInterface describes the capturing host of a pcap file. A named
// interface is looked up when it exists here; -local adds addresses on top.
func replayInterface(cfg *config.Config, f *cliFlags) (*monitor.Interface, error) {
	locals, err := parseLocalAddrs(f.localAddrs)
	if err != nil {
		return nil, err
	}

	iface := &monitor.Interface{Name: filepath.Base(f.readFile)}
	if cfg.Capture.Interface != "" {
		found, err := capture.LookupInterface(cfg.Capture.Interface)
		if err != nil {
			logging.Warnf("replay: %v, using -local addresses only", err)
		} else {
			iface = found
		}
	}
	iface.Addrs = append(iface.Addrs, locals...)

	if len(iface.MAC) == 0 && len(iface.Addrs) == 0 {
		logging.Warnf("replay: no local addresses, all traffic counts as outgoing")
	}
	return iface, nil
}

func openSource(cfg *config.Config, f *cliFlags) (*capture.Handle, *monitor.Interface, error) {
	if f.readFile != "" {
		iface, err := replayInterface(cfg, f)
		if err != nil {
			return nil, nil, err
		}
		h, err := capture.OpenOffline(f.readFile, cfg.Capture.Filter)
		if err != nil {
			return nil, nil, err
		}
		return h, iface, nil
	}

	name := cfg.Capture.Interface
	if name == "" {
		var err error
		name, err = capture.DefaultInterface()
		if err != nil {
			return nil, nil, errors.Wrap(err, "no interface given, use -i or -list")
		}
	}

	iface, err := capture.LookupInterface(name)
	if err != nil {
		return nil, nil, err
	}
	h, err := capture.OpenLive(name, capture.Options{
		SnapLen:     int32(cfg.Capture.SnapLen),
		Promiscuous: cfg.Capture.Promiscuous,
		Filter:      cfg.Capture.Filter,
	})
	if err != nil {
		return nil, nil, err
	}
	return h, iface, nil
}

func attributorOptions(cfg *config.Config) []process.Option {
	opts := []process.Option{process.WithProcRoot(cfg.Attribution.ProcRoot)}
	if cfg.Attribution.FastPathFile != "" {
		opts = append(opts, process.WithFastPathFile(cfg.Attribution.FastPathFile))
	}
	if cfg.Attribution.EstablishedTCP {
		opts = append(opts, process.WithEstablishedTCP())
	}
	return opts
}

func newSink(cfg *config.Config, w io.Writer) netwatch.ReportSink {
	if cfg.Report.Format == config.FormatJSON {
		return netflow.NewJSONSink(w)
	}
	return netflow.NewLogSink(cfg.Report.Limit)
}

func netflowOptions(ctx context.Context, cfg *config.Config, r netflow.Refresher, sink netwatch.ReportSink) []netflow.Option {
	opts := []netflow.Option{
		netflow.WithCtx(ctx),
		netflow.WithSyncInterval(cfg.Report.Interval),
		netflow.WithAttributor(r),
		netflow.WithReportSink(sink),
	}
	if cfg.Capture.PcapFile != "" {
		opts = append(opts, netflow.WithStorePcap(cfg.Capture.PcapFile))
	}
	if cfg.Limits.CPUCores > 0 || cfg.Limits.MemoryMB > 0 {
		opts = append(opts, netflow.WithLimitCgroup(cfg.Limits.CPUCores, cfg.Limits.MemoryMB))
	}
	if cfg.Capture.Debug {
		opts = append(opts, netflow.WithOpenDebug())
	}
	return opts
}

func run(f *cliFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}

	if f.list {
		return printInterfaces(os.Stdout)
	}

	src, iface, err := openSource(cfg, f)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attributor := process.NewAttributor(attributorOptions(cfg)...)
	sink := newSink(cfg, os.Stdout)

	nf, err := netflow.NewNetflow(src, iface, netflowOptions(ctx, cfg, attributor, sink)...)
	if err != nil {
		src.Close()
		return err
	}
	if err := nf.Start(); err != nil {
		src.Close()
		return err
	}

	<-nf.Done()
	nf.Stop()

	// flush the partial window of a replay
	if f.readFile != "" {
		nf.Reporter().Tick()
	}
	return nf.Wait()
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}

	if err := run(f); err != nil {
		logging.Fatalf("netwatch: %v", err)
	}
}
