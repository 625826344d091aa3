package process

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"github.com/spf13/cast"
)

const socketLabel = "socket:["

// ProcWalker enumerates /proc/<pid>/fd through procfs.
type ProcWalker struct {
	root string
}

func NewProcWalker(root string) *ProcWalker {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	return &ProcWalker{root: root}
}

func (w *ProcWalker) PIDs() ([]int32, error) {
	pfs, err := procfs.NewFS(w.root)
	if err != nil {
		return nil, errors.Wrapf(err, "open procfs %s", w.root)
	}

	procs, err := pfs.AllProcs()
	if err != nil {
		return nil, errors.Wrap(err, "list processes")
	}

	pids := make([]int32, 0, len(procs))
	for _, p := range procs {
		pids = append(pids, int32(p.PID))
	}
	return pids, nil
}

func (w *ProcWalker) SocketInodes(pid int32) ([]uint64, error) {
	pfs, err := procfs.NewFS(w.root)
	if err != nil {
		return nil, errors.Wrapf(err, "open procfs %s", w.root)
	}

	proc, err := pfs.Proc(int(pid))
	if err != nil {
		return nil, errors.Wrapf(ErrProcessVanished, "pid %d: %v", pid, err)
	}

	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		return nil, errors.Wrapf(err, "pid %d: read fd", pid)
	}

	var inodes []uint64
	for _, target := range targets {
		if inode, ok := parseSocketTarget(target); ok {
			inodes = append(inodes, inode)
		}
	}
	return inodes, nil
}

// parseSocketTarget extracts N from a "socket:[N]" link target.
func parseSocketTarget(target string) (uint64, bool) {
	if !strings.HasPrefix(target, socketLabel) || !strings.HasSuffix(target, "]") {
		return 0, false
	}

	inode, err := cast.ToUint64E(target[len(socketLabel) : len(target)-1])
	if err != nil {
		return 0, false
	}
	return inode, true
}
