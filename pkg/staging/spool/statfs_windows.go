//go:build windows

package spool

import (
	"golang.org/x/sys/windows"
)

// volumeStats returns total, used and available bytes for the filesystem
// holding path.
func volumeStats(path string) (total, used, available int64, err error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, 0, err
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, 0, 0, err
	}

	total = int64(totalBytes)
	available = int64(freeBytesAvailable)
	used = total - int64(totalFreeBytes)
	return total, used, available, nil
}
