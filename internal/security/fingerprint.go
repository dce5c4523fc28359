package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"

	"casevault/internal/files"
)

const (
	machineSeedSize = 32
	hkdfSalt        = "casevault-device-v1"
	infoEncryption  = "casevault device encryption"
	infoMAC         = "casevault device mac"
	infoMachineID   = "casevault machine id"
)

// DeviceKey is the device-local key pair derived from the random machine
// seed stored under the security directory. It protects license state that
// must not be portable between installs.
type DeviceKey struct {
	machineID string
	encKey    []byte
	macKey    []byte
}

// LoadOrCreateDeviceKey reads the machine seed at path, creating it on first
// use. A seed file that exists but cannot be parsed is an error: silently
// regenerating it would orphan every record sealed under the old key.
func LoadOrCreateDeviceKey(path string) (*DeviceKey, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(seed) != machineSeedSize {
			return nil, errors.New("machine id file is corrupt")
		}
		return NewDeviceKey(seed)
	case errors.Is(err, fs.ErrNotExist):
		seed, err := RandomBytes(machineSeedSize)
		if err != nil {
			return nil, err
		}
		if err := files.WriteAtomic(path, []byte(hex.EncodeToString(seed))); err != nil {
			return nil, fmt.Errorf("failed to persist machine id: %w", err)
		}
		return NewDeviceKey(seed)
	default:
		return nil, fmt.Errorf("failed to read machine id: %w", err)
	}
}

// NewDeviceKey derives independent encryption, MAC and identifier keys from
// seed with HKDF-SHA256.
func NewDeviceKey(seed []byte) (*DeviceKey, error) {
	if len(seed) < 16 {
		return nil, errors.New("device seed too short")
	}

	derive := func(info string, n int) ([]byte, error) {
		out := make([]byte, n)
		if _, err := io.ReadFull(hkdf.New(sha256.New, seed, []byte(hkdfSalt), []byte(info)), out); err != nil {
			return nil, fmt.Errorf("hkdf %q: %w", info, err)
		}
		return out, nil
	}

	encKey, err := derive(infoEncryption, KeySize)
	if err != nil {
		return nil, err
	}
	macKey, err := derive(infoMAC, KeySize)
	if err != nil {
		return nil, err
	}
	id, err := derive(infoMachineID, 16)
	if err != nil {
		return nil, err
	}

	return &DeviceKey{
		machineID: hex.EncodeToString(id),
		encKey:    encKey,
		macKey:    macKey,
	}, nil
}

// MachineID is a stable public identifier for this install. It reveals
// nothing about the seed.
func (d *DeviceKey) MachineID() string {
	return d.machineID
}

// Seal encrypts plaintext bound to label.
func (d *DeviceKey) Seal(label string, plaintext []byte) ([]byte, error) {
	return Seal(d.encKey, plaintext, []byte(label))
}

// Open decrypts data produced by Seal with the same label.
func (d *DeviceKey) Open(label string, sealed []byte) ([]byte, error) {
	return Open(d.encKey, sealed, []byte(label))
}

// MAC returns HMAC-SHA256 of msg under the device MAC key.
func (d *DeviceKey) MAC(msg []byte) []byte {
	h := hmac.New(sha256.New, d.macKey)
	h.Write(msg)
	return h.Sum(nil)
}

// VerifyMAC checks mac in constant time.
func (d *DeviceKey) VerifyMAC(msg, mac []byte) bool {
	return hmac.Equal(d.MAC(msg), mac)
}
