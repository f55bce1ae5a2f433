//go:build !windows

package v1

import (
	"os"

	"golang.org/x/sys/unix"
)

var pageSize = os.Getpagesize()

// adviseWillNeed madvises the OS to prefetch [offset, offset+length) of
// data, rounded down to a page boundary, matching §4.1's "aligns to a page
// boundary" will_need hint.
func adviseWillNeed(data []byte, offset, length int64) error {
	if length <= 0 || len(data) == 0 {
		return nil
	}
	start := (offset / int64(pageSize)) * int64(pageSize)
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if start >= end {
		return nil
	}
	return unix.Madvise(data[start:end], unix.MADV_WILLNEED)
}
