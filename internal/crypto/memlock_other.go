//go:build !linux

package crypto

// LockMemory is a no-op outside Linux
func LockMemory(b []byte) error {
	return nil
}

// UnlockMemory is a no-op outside Linux
func UnlockMemory(b []byte) error {
	return nil
}
