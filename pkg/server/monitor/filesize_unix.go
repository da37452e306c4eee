//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// getActualFileSize returns the allocated size of a database file from its
// stat block count, so sparse WAL and value log files are not overcounted.
func getActualFileSize(path string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	// st_blocks is always in 512-byte units.
	return stat.Blocks * 512, nil
}
