//go:build windows

package diskfree

import (
	"os"

	"golang.org/x/sys/windows"
)

// Available returns the bytes available to the caller on the volume holding
// path, or 0 when path is not a readable directory.
func Available(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return 0
	}

	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0
	}

	var callerFree, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &callerFree, &total, &totalFree); err != nil {
		return 0
	}

	return int64(callerFree)
}
