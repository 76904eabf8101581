//go:build linux

package mmio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapDevice maps a physical range through path. O_SYNC makes the kernel map
// the range uncached, which device registers require.
func mapDevice(path string, base, size uint64) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	mem, err := unix.Mmap(fd, int64(base), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return mem, nil
}
