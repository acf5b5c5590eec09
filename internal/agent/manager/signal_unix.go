//go:build !windows

package manager

import "syscall"

// stopSignal is sent to an agent process to request graceful shutdown
// before the stop-grace deadline forces a kill.
var stopSignal = syscall.SIGTERM
