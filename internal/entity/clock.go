package entity

import "time"

// Clock returns the current time in microseconds since the Unix epoch.
// All entity timestamps are in this unit. Tests substitute a fixed clock.
type Clock func() uint64

// SystemClock is the production clock.
func SystemClock() uint64 {
	return uint64(time.Now().UnixMicro())
}
