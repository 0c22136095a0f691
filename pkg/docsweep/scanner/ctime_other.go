//go:build !darwin && !linux

package scanner

import (
	"os"
	"time"
)

// CreateTime falls back to the modification time on platforms without a
// portable birth time.
func CreateTime(_ string, info os.FileInfo) time.Time {
	return info.ModTime()
}
