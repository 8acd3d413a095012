//go:build linux

package mmarena

import "golang.org/x/sys/unix"

// sysinfoCommitted reports approximate system-wide committed memory
// (total minus free) via sysinfo(2), used to sanity-check the simulated
// commit ledger against real memory pressure.
func sysinfoCommitted() (int64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit
	free := uint64(info.Freeram) * unit
	if free > total {
		return 0, false
	}
	return int64(total - free), true
}
