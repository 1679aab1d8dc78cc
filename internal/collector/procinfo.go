package collector

import (
	ps "github.com/mitchellh/go-ps"
	"github.com/shirou/gopsutil/v3/process"
)

type processInfo struct {
	name string
	uid  uint32
}

// lookupProcess reads the executable name and real uid of pid.
func lookupProcess(pid int32) (processInfo, bool) {
	p, err := ps.FindProcess(int(pid))
	if err != nil || p == nil {
		return processInfo{}, false
	}

	info := processInfo{name: p.Executable()}
	if proc, err := process.NewProcess(pid); err == nil {
		if uids, err := proc.Uids(); err == nil && len(uids) > 0 {
			info.uid = uint32(uids[0])
		}
	}
	return info, true
}

func processAlive(pid int32) bool {
	ok, err := process.PidExists(pid)
	return err == nil && ok
}
