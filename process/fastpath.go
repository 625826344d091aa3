package process

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/jinmuyano/netwatch/logging"
)

// DefaultFastPath is the file exposed by the pid/inode kernel module.
const DefaultFastPath = "/proc/pid_inode_map"

// FileFastPath is a FastPathSource backed by a file.
type FileFastPath struct {
	path string
}

func NewFileFastPath(path string) *FileFastPath {
	if path == "" {
		path = DefaultFastPath
	}
	return &FileFastPath{path: path}
}

func (f *FileFastPath) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// parseFastPath reads lines of the form
//
//	PID 'NAME' INODE INODE ...
//
// The name is dropped; display names come from the NameResolver. Malformed
// lines and unparsable inodes are skipped.
func parseFastPath(r io.Reader) (map[uint64][]int32, error) {
	var (
		inodePids = make(map[uint64][]int32, 1000)
		scanner   = bufio.NewScanner(r)
	)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, "'")
		if len(parts) < 3 {
			logging.Debugf("skip malformed fast path line %q", line)
			continue
		}

		pid, err := cast.ToInt32E(strings.TrimSpace(parts[0]))
		if err != nil || pid <= 0 {
			logging.Debugf("skip fast path line with bad pid %q", line)
			continue
		}

		// the inode list follows the last quote so names may contain quotes
		for _, field := range strings.Fields(parts[len(parts)-1]) {
			inode, err := cast.ToUint64E(field)
			if err != nil {
				continue
			}
			inodePids[inode] = appendPid(inodePids[inode], pid)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read fast path")
	}
	return inodePids, nil
}

func appendPid(pids []int32, pid int32) []int32 {
	for _, p := range pids {
		if p == pid {
			return pids
		}
	}
	return append(pids, pid)
}
