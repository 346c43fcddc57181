package training

import (
	"time"

	"golang.org/x/sys/unix"
)

// cpuTime returns the process CPU time in seconds. Checkpoint pacing is
// CPU-time driven so that slow iterations checkpoint as often as fast
// ones.
func cpuTime() float64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return float64(time.Now().UnixNano()) / float64(time.Second)
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano()).Seconds()
}
