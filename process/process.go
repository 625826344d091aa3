// Package process maps local ports to the processes that own them by joining
// the kernel socket tables with the per-process descriptor tables.
package process

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrAttributionUnavailable means the socket tables could not be read.
	// Callers keep the previous PortMap.
	ErrAttributionUnavailable = errors.New("process: attribution source unavailable")

	// ErrProcessVanished means a pid exited between the inode scan and the
	// name lookup.
	ErrProcessVanished = errors.New("process: process vanished")
)

// Process is an attribution record taken at refresh time. It is not a handle
// on the live process.
type Process struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
}

func (p Process) String() string {
	return fmt.Sprintf("%s(%d)", p.Name, p.PID)
}

// PortMap is the result of one refresh. A port may map to zero, one or many
// processes (forked workers share listeners).
type PortMap map[uint16][]Process

// Protocol names the kernel table a socket was read from.
type Protocol string

const (
	TCP  Protocol = "tcp"
	TCP6 Protocol = "tcp6"
	UDP  Protocol = "udp"
	UDP6 Protocol = "udp6"
)

func (p Protocol) IsTCP() bool {
	return p == TCP || p == TCP6
}

// Kernel socket states as written in /proc/net/{tcp,udp}.
const (
	StateEstablished uint64 = 0x01
	StateListen      uint64 = 0x0A
)

// Socket is one row of a kernel socket table.
type Socket struct {
	Proto     Protocol
	LocalPort uint16
	State     uint64
	Inode     uint64
}

// SocketTableReader returns the TCP and UDP sockets, v4 and v6.
type SocketTableReader interface {
	Sockets() ([]Socket, error)
}

// FDEnumerator lists processes and the socket inodes among their open
// descriptors.
type FDEnumerator interface {
	PIDs() ([]int32, error)
	SocketInodes(pid int32) ([]uint64, error)
}

// FastPathSource opens a privileged pid to inode listing. Open returns an
// error satisfying errors.Is(err, fs.ErrNotExist) when the source is absent.
type FastPathSource interface {
	Open() (io.ReadCloser, error)
}

// NameResolver returns a human readable name for pid, or ErrProcessVanished.
type NameResolver interface {
	DisplayName(pid int32) (string, error)
}
