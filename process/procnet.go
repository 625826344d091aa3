package process

import (
	"io/fs"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// ProcNetReader reads /proc/net/{tcp,tcp6,udp,udp6} under a proc root.
type ProcNetReader struct {
	root string
}

func NewProcNetReader(root string) *ProcNetReader {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	return &ProcNetReader{root: root}
}

func (r *ProcNetReader) Sockets() ([]Socket, error) {
	pfs, err := procfs.NewFS(r.root)
	if err != nil {
		return nil, errors.Wrapf(err, "open procfs %s", r.root)
	}

	var out []Socket

	// the v4 tables must exist; v6 ones are missing on kernels without ipv6
	tcp, err := pfs.NetTCP()
	if err != nil {
		return nil, errors.Wrap(err, "read net/tcp")
	}
	for _, line := range tcp {
		out = append(out, Socket{Proto: TCP, LocalPort: uint16(line.LocalPort), State: line.St, Inode: line.Inode})
	}

	udp, err := pfs.NetUDP()
	if err != nil {
		return nil, errors.Wrap(err, "read net/udp")
	}
	for _, line := range udp {
		out = append(out, Socket{Proto: UDP, LocalPort: uint16(line.LocalPort), State: line.St, Inode: line.Inode})
	}

	tcp6, err := pfs.NetTCP6()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "read net/tcp6")
	}
	for _, line := range tcp6 {
		out = append(out, Socket{Proto: TCP6, LocalPort: uint16(line.LocalPort), State: line.St, Inode: line.Inode})
	}

	udp6, err := pfs.NetUDP6()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "read net/udp6")
	}
	for _, line := range udp6 {
		out = append(out, Socket{Proto: UDP6, LocalPort: uint16(line.LocalPort), State: line.St, Inode: line.Inode})
	}

	return out, nil
}

// Policy selects the sockets that take part in attribution.
type Policy struct {
	TCPStates []uint64
	UDPStates []uint64
}

// DefaultPolicy keeps listening TCP servers and connected UDP sockets.
// Outbound TCP connections are left out.
var DefaultPolicy = Policy{
	TCPStates: []uint64{StateListen},
	UDPStates: []uint64{StateEstablished},
}

func (p Policy) Allows(s Socket) bool {
	states := p.UDPStates
	if s.Proto.IsTCP() {
		states = p.TCPStates
	}
	for _, st := range states {
		if st == s.State {
			return true
		}
	}
	return false
}

func (p Policy) withTCPState(state uint64) Policy {
	for _, st := range p.TCPStates {
		if st == state {
			return p
		}
	}
	tcp := make([]uint64, 0, len(p.TCPStates)+1)
	tcp = append(tcp, p.TCPStates...)
	p.TCPStates = append(tcp, state)
	return p
}
