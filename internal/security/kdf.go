package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// SaltSize is the per-vault and per-backup salt length.
	SaltSize = 32
	// KDFArgon2id names the only supported algorithm in persisted formats.
	KDFArgon2id = "argon2id"
)

// Argon2Params are the Argon2id cost parameters.
type Argon2Params struct {
	MemoryKiB   uint32 `json:"m"`
	Iterations  uint32 `json:"t"`
	Parallelism uint8  `json:"p"`
}

// DefaultArgon2Params returns the production cost: 16 MiB, 3 passes, 1 lane.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{MemoryKiB: 16 * 1024, Iterations: 3, Parallelism: 1}
}

// Validate rejects parameters argon2 would panic on or that are uselessly weak.
func (p Argon2Params) Validate() error {
	if p.Iterations == 0 {
		return errors.New("argon2: iterations must be at least 1")
	}
	if p.Parallelism == 0 {
		return errors.New("argon2: parallelism must be at least 1")
	}
	if p.MemoryKiB < 8*uint32(p.Parallelism) {
		return fmt.Errorf("argon2: memory must be at least %d KiB", 8*uint32(p.Parallelism))
	}
	return nil
}

// KeyDeriver turns a password and salt into a KeySize key. The returned
// slice is freshly allocated and owned by the caller.
type KeyDeriver interface {
	DeriveKey(password, salt []byte) ([]byte, error)
}

// Argon2KDF is the production KeyDeriver.
type Argon2KDF struct {
	Params Argon2Params
}

// NewArgon2KDF returns an Argon2id deriver after validating params.
func NewArgon2KDF(params Argon2Params) (*Argon2KDF, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2KDF{Params: params}, nil
}

// DeriveKey implements KeyDeriver.
func (k *Argon2KDF) DeriveKey(password, salt []byte) ([]byte, error) {
	return DeriveKey(password, salt, k.Params)
}

// DeriveKey runs Argon2id with explicit parameters.
func DeriveKey(password, salt []byte, params Argon2Params) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(salt) < 16 {
		return nil, errors.New("argon2: salt must be at least 16 bytes")
	}
	return argon2.IDKey(password, salt, params.Iterations, params.MemoryKiB, params.Parallelism, KeySize), nil
}
