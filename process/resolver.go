package process

import (
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-ps"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// CmdlineResolver names a process by its command line. Kernel threads and
// zombies have an empty cmdline; those fall back to the executable name.
type CmdlineResolver struct {
	root        string
	findProcess func(pid int) (ps.Process, error)
}

func NewCmdlineResolver(root string) *CmdlineResolver {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	return &CmdlineResolver{
		root:        root,
		findProcess: ps.FindProcess,
	}
}

func (r *CmdlineResolver) DisplayName(pid int32) (string, error) {
	pfs, err := procfs.NewFS(r.root)
	if err != nil {
		return "", errors.Wrapf(err, "open procfs %s", r.root)
	}

	proc, err := pfs.Proc(int(pid))
	if err != nil {
		return "", errors.Wrapf(ErrProcessVanished, "pid %d", pid)
	}

	cmdline, err := proc.CmdLine()
	if err == nil {
		if name := strings.TrimSpace(strings.Join(cmdline, " ")); name != "" {
			return name, nil
		}
	}

	if comm, err := proc.Comm(); err == nil && comm != "" {
		return comm, nil
	}

	return r.executableName(pid)
}

func (r *CmdlineResolver) executableName(pid int32) (string, error) {
	p, err := r.findProcess(int(pid))
	if err != nil {
		return "", errors.Wrapf(err, "pid %d: find process", pid)
	}
	if p == nil {
		return "", errors.Wrapf(ErrProcessVanished, "pid %d", pid)
	}
	return filepath.Base(p.Executable()), nil
}
