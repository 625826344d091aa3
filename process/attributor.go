package process

import (
	"io/fs"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jinmuyano/netwatch/logging"
)

// Strategy is the inode to pid resolution used by a refresh.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyFastPath
	StrategyFallback
)

func (s Strategy) String() string {
	switch s {
	case StrategyFastPath:
		return "fast-path"
	case StrategyFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Attributor rebuilds the port to process map from scratch on every Refresh.
// The strategy is chosen afresh each time, never cached.
type Attributor struct {
	sockets  SocketTableReader
	fds      FDEnumerator
	fastPath FastPathSource
	names    NameResolver
	policy   Policy
	mapping  *Mapping

	mu           sync.Mutex
	lastStrategy Strategy
}

type optionFunc func(*Attributor)

// Option lets callers outside the package collect options in a slice.
type Option = optionFunc

// WithProcRoot points the default procfs readers at another mount point.
func WithProcRoot(root string) optionFunc {
	return func(a *Attributor) {
		a.sockets = NewProcNetReader(root)
		a.fds = NewProcWalker(root)
		a.names = NewCmdlineResolver(root)
	}
}

func WithSocketTableReader(r SocketTableReader) optionFunc {
	return func(a *Attributor) {
		a.sockets = r
	}
}

func WithFDEnumerator(e FDEnumerator) optionFunc {
	return func(a *Attributor) {
		a.fds = e
	}
}

func WithFastPath(src FastPathSource) optionFunc {
	return func(a *Attributor) {
		a.fastPath = src
	}
}

// WithFastPathFile reads path instead of /proc/pid_inode_map.
func WithFastPathFile(path string) optionFunc {
	return func(a *Attributor) {
		a.fastPath = NewFileFastPath(path)
	}
}

func WithNameResolver(r NameResolver) optionFunc {
	return func(a *Attributor) {
		a.names = r
	}
}

func WithPolicy(p Policy) optionFunc {
	return func(a *Attributor) {
		a.policy = p
	}
}

// WithEstablishedTCP also attributes established TCP sockets, which covers
// outbound client connections.
func WithEstablishedTCP() optionFunc {
	return func(a *Attributor) {
		a.policy = a.policy.withTCPState(StateEstablished)
	}
}

// WithMapping publishes every successful refresh into m.
func WithMapping(m *Mapping) optionFunc {
	return func(a *Attributor) {
		a.mapping = m
	}
}

func NewAttributor(opts ...optionFunc) *Attributor {
	a := &Attributor{
		sockets:  NewProcNetReader(""),
		fds:      NewProcWalker(""),
		fastPath: NewFileFastPath(""),
		names:    NewCmdlineResolver(""),
		policy:   DefaultPolicy,
		mapping:  NewMapping(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mapping returns the holder of the last successful refresh.
func (a *Attributor) Mapping() *Mapping {
	return a.mapping
}

func (a *Attributor) LastStrategy() Strategy {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.lastStrategy
}

// Refresh reads the socket tables and the inode owners concurrently, then
// joins them into a fresh PortMap. Pids that exit mid-refresh are skipped.
// If the socket tables cannot be read the error wraps
// ErrAttributionUnavailable and the Mapping keeps its previous value.
func (a *Attributor) Refresh() (PortMap, error) {
	var (
		g         errgroup.Group
		inodePort map[uint64]uint16
		inodePids map[uint64][]int32
		strategy  Strategy
	)

	g.Go(func() error {
		socks, err := a.sockets.Sockets()
		if err != nil {
			return errors.Wrapf(ErrAttributionUnavailable, "socket tables: %v", err)
		}
		inodePort = a.inodeToPort(socks)
		return nil
	})

	g.Go(func() error {
		var err error
		inodePids, strategy, err = a.inodeToPids()
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.lastStrategy = strategy
	a.mu.Unlock()

	pm := a.join(inodePort, inodePids)
	a.mapping.Update(pm)
	return pm, nil
}

func (a *Attributor) inodeToPort(socks []Socket) map[uint64]uint16 {
	inodePort := make(map[uint64]uint16, len(socks))
	for _, s := range socks {
		if s.Inode == 0 || !a.policy.Allows(s) {
			continue
		}
		inodePort[s.Inode] = s.LocalPort
	}
	return inodePort
}

func (a *Attributor) inodeToPids() (map[uint64][]int32, Strategy, error) {
	if a.fastPath != nil {
		inodePids, err := a.readFastPath()
		if err == nil {
			return inodePids, StrategyFastPath, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			logging.Warnf("fast path unreadable, walking processes: %v", err)
		}
	}

	// only unreadable socket tables fail a refresh; without a process list
	// every port stays unattributed for this round
	inodePids, err := a.walk()
	if err != nil {
		logging.Warnf("list processes, ports left unattributed: %v", err)
		return map[uint64][]int32{}, StrategyFallback, nil
	}
	return inodePids, StrategyFallback, nil
}

func (a *Attributor) readFastPath() (map[uint64][]int32, error) {
	rc, err := a.fastPath.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return parseFastPath(rc)
}

func (a *Attributor) walk() (map[uint64][]int32, error) {
	pids, err := a.fds.PIDs()
	if err != nil {
		return nil, err
	}

	inodePids := make(map[uint64][]int32, 1000)
	for _, pid := range pids {
		inodes, err := a.fds.SocketInodes(pid)
		if err != nil {
			// exited or not ours to read
			continue
		}
		for _, inode := range inodes {
			inodePids[inode] = appendPid(inodePids[inode], pid)
		}
	}
	return inodePids, nil
}

func (a *Attributor) join(inodePort map[uint64]uint16, inodePids map[uint64][]int32) PortMap {
	var (
		pm       = make(PortMap, len(inodePort))
		names    = make(map[int32]string)
		vanished = make(map[int32]bool)
		seen     = make(map[uint16]map[int32]bool)
	)

	for inode, port := range inodePort {
		pids, ok := inodePids[inode]
		if !ok || len(pids) == 0 {
			continue
		}
		if _, ok := pm[port]; !ok {
			pm[port] = []Process{}
			seen[port] = make(map[int32]bool)
		}

		for _, pid := range pids {
			if vanished[pid] || seen[port][pid] {
				continue
			}

			name, ok := names[pid]
			if !ok {
				var err error
				name, err = a.names.DisplayName(pid)
				if err != nil {
					vanished[pid] = true
					fields := logrus.Fields{"pid": pid, "port": port}
					if errors.Is(err, ErrProcessVanished) {
						logging.DebugWithFields(fields, "skip vanished process")
					} else {
						logging.WarnWithFields(fields, "skip process: %v", err)
					}
					continue
				}
				names[pid] = name
			}

			seen[port][pid] = true
			pm[port] = append(pm[port], Process{PID: pid, Name: name})
		}
	}
	return pm
}
