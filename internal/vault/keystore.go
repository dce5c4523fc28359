package vault

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os/user"

	"github.com/zalando/go-keyring"
)

// ErrSecretNotFound is returned by a SecretStore with nothing stored.
var ErrSecretNotFound = errors.New("no secret stored")

// SecretStore holds the biometric wrap key in platform secure storage.
type SecretStore interface {
	Store(secret []byte) error
	Load() ([]byte, error)
	Delete() error
}

// Keychain is a SecretStore backed by the OS keychain (Keychain on macOS,
// Credential Manager on Windows, Secret Service on Linux).
type Keychain struct {
	service string
	account string
}

// NewKeychain returns a Keychain entry for service under the current OS
// user.
func NewKeychain(service string) *Keychain {
	account := "casevault"
	if u, err := user.Current(); err == nil && u.Username != "" {
		account = u.Username
	}
	return &Keychain{service: service, account: account}
}

// Account is the keychain account the entry is stored under.
func (k *Keychain) Account() string {
	return k.account
}

// Store implements SecretStore.
func (k *Keychain) Store(secret []byte) error {
	if err := keyring.Set(k.service, k.account, hex.EncodeToString(secret)); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// Load implements SecretStore.
func (k *Keychain) Load() ([]byte, error) {
	encoded, err := keyring.Get(k.service, k.account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keychain get: %w", err)
	}
	secret, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keychain entry is not hex: %w", err)
	}
	return secret, nil
}

// Delete implements SecretStore. Deleting a missing entry is not an error.
func (k *Keychain) Delete() error {
	if err := keyring.Delete(k.service, k.account); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}
