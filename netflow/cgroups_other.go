//go:build !linux

package netflow

import "github.com/pkg/errors"

type cgroupsLimiter struct{}

func (c *cgroupsLimiter) configure(pid int, cpu float64, mem int) error {
	return errors.New("cgroup limits are only supported on linux")
}

func (c *cgroupsLimiter) free() {}
