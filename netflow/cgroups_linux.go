//go:build linux

package netflow

import (
	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"
)

const (
	cgroupPath = "/netwatch"
	cpuPeriod  = uint64(100000)
)

type cgroupsLimiter struct {
	control cgroups.Cgroup
}

// configure creates a v1 cgroup capped at cpu cores and mem MB and moves pid
// into it. A zero value leaves that resource unlimited.
func (c *cgroupsLimiter) configure(pid int, cpu float64, mem int) error {
	resources := &specs.LinuxResources{}
	if cpu > 0 {
		var (
			period = cpuPeriod
			quota  = int64(cpu * float64(cpuPeriod))
		)
		resources.CPU = &specs.LinuxCPU{
			Period: &period,
			Quota:  &quota,
		}
	}
	if mem > 0 {
		limit := int64(mem) * 1024 * 1024
		resources.Memory = &specs.LinuxMemory{
			Limit: &limit,
		}
	}

	control, err := cgroups.New(cgroups.V1, cgroups.StaticPath(cgroupPath), resources)
	if err != nil {
		return errors.Wrap(err, "create cgroup")
	}
	c.control = control

	if err := control.Add(cgroups.Process{Pid: pid}); err != nil {
		return errors.Wrapf(err, "add pid %d to cgroup", pid)
	}
	return nil
}

func (c *cgroupsLimiter) free() {
	if c.control == nil {
		return
	}
	c.control.Delete()
}
