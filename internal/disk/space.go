// Package disk answers whether a download fits on the target filesystem.
package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding dir. A dir that does not exist yet is measured at its
// nearest existing parent.
func FreeSpace(dir string) (uint64, error) {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to get filesystem stats: %w", err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// Required adds a 10% buffer on top of size.
func Required(size int64) uint64 {
	if size <= 0 {
		return 0
	}
	return uint64(size) + uint64(size)/10
}

// Check reports the free space in dir and whether size fits into it.
func Check(dir string, size int64) (free uint64, fits bool, err error) {
	free, err = FreeSpace(dir)
	if err != nil {
		return 0, false, err
	}
	return free, free >= Required(size), nil
}
