package receiver

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// FreeFunc reports the free bytes on the volume holding path.
type FreeFunc func(path string) (uint64, error)

// DiskFree is the FreeFunc backed by the operating system.
func DiskFree(path string) (uint64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}
