//go:build linux

package security

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// allocProtected maps anonymous memory, locks it against swap and excludes
// it from core dumps. If any step is refused (RLIMIT_MEMLOCK in containers
// is common) it returns a plain heap slice instead.
func allocProtected(size int) ([]byte, bool) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return make([]byte, size), false
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return make([]byte, size), false
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return make([]byte, size), false
	}
	return data, true
}

func releaseProtected(data []byte) error {
	if err := unix.Munlock(data); err != nil {
		unix.Munmap(data)
		return fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("secret: munmap failed: %w", err)
	}
	return nil
}
