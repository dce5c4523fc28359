package security

import (
	"errors"
	"sync"
)

// ErrSecretClosed is returned when a closed SecretBuffer is accessed.
var ErrSecretClosed = errors.New("secret buffer closed")

// SecretBuffer holds key material. Where the platform allows it the bytes
// live in an mlock'ed, non-dumpable mapping outside the Go heap; otherwise
// they fall back to a heap slice. Either way Close zeroes them.
type SecretBuffer struct {
	mu        sync.Mutex
	data      []byte
	protected bool
	closed    bool
}

// NewSecretFromBytes copies source into a new buffer and zeroes source.
func NewSecretFromBytes(source []byte) (*SecretBuffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: cannot create buffer from empty source")
	}

	data, protected := allocProtected(len(source))
	copy(data, source)
	Zero(source)

	return &SecretBuffer{data: data, protected: protected}, nil
}

// Use calls fn with the secret bytes while holding the buffer lock. fn must
// not retain the slice.
func (b *SecretBuffer) Use(fn func(secret []byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrSecretClosed
	}
	return fn(b.data)
}

// Protected reports whether the bytes are in locked memory.
func (b *SecretBuffer) Protected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.protected
}

// Closed reports whether Close has been called.
func (b *SecretBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close zeroes the contents and releases the memory. Idempotent.
func (b *SecretBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.data)
	var err error
	if b.protected {
		err = releaseProtected(b.data)
	}
	b.data = nil
	return err
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
