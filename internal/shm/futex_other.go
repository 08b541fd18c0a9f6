//go:build !linux

package shm

import (
	"sync/atomic"
	"time"
)

const pollInterval = 50 * time.Microsecond

// futexWait polls until the word changes. Darwin and the BSDs expose no
// portable cross-process wait on a mapped word.
func futexWait(addr *int32, val int32) error {
	for atomic.LoadInt32(addr) == val {
		time.Sleep(pollInterval)
	}
	return nil
}

func futexWake(*int32, int) error {
	return nil
}
