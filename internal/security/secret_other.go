//go:build !linux

package security

func allocProtected(size int) ([]byte, bool) {
	return make([]byte, size), false
}

func releaseProtected([]byte) error {
	return nil
}
