//go:build darwin

package scanner

import (
	"os"
	"syscall"
	"time"
)

// CreateTime returns the creation time of a file.
// On macOS, this uses the birth time from the stat structure.
func CreateTime(_ string, info os.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}
	return time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec)
}
