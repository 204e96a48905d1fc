//go:build linux

package crypto

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// LockMemory pins b in RAM so derived keys are not written to swap.
// Failure is not fatal for callers; RLIMIT_MEMLOCK is often small in containers.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Mlock(b); err != nil {
		return fmt.Errorf("mlock failed: %w", err)
	}
	return nil
}

// UnlockMemory releases a LockMemory pin
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munlock(b); err != nil {
		return fmt.Errorf("munlock failed: %w", err)
	}
	return nil
}
