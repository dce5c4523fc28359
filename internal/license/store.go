package license

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"casevault/internal/config"
	"casevault/internal/files"
	"casevault/internal/security"
)

const (
	recordLabel   = "casevault-license-record-v1"
	sentinelLabel = "casevault-license-sentinel-v1"
	registryLabel = "casevault-burned-keys-v1"

	maxStateFileSize = 1 << 20
)

// errRecordInvalid means a record file exists but cannot be opened with this
// device's key or does not parse.
var errRecordInvalid = errors.New("license record is not valid for this device")

// Files locates the activation state inside the security directory.
type Files struct {
	Record   string
	Sentinel string
	Registry string
}

// FilesFrom picks the license files out of the resolved application paths.
func FilesFrom(p *config.Paths) Files {
	return Files{
		Record:   p.LicenseRecordFile,
		Sentinel: p.SentinelFile,
		Registry: p.BurnedKeysFile,
	}
}

// Record is the activation record. It holds a fingerprint of the token,
// never the token itself.
type Record struct {
	Activated        bool       `json:"activated"`
	Subject          string     `json:"subject"`
	ActivatedAt      time.Time  `json:"activated_at"`
	TokenFingerprint string     `json:"token_fingerprint"`
	KeyID            string     `json:"key_id"`
	ExpiresAt        *time.Time `json:"expires_at"`
	MachineID        string     `json:"machine_id"`
}

// ExpiredAt reports whether the record's license has lapsed at now.
func (r *Record) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// stateStore reads and writes the three device-bound license files.
type stateStore struct {
	files  Files
	device *security.DeviceKey
}

// loadRecord returns (nil, nil) when no record exists.
func (s *stateStore) loadRecord() (*Record, error) {
	sealed, err := files.ReadLimited(s.files.Record, maxStateFileSize)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errRecordInvalid
	}

	plain, err := s.device.Open(recordLabel, sealed)
	if err != nil {
		return nil, errRecordInvalid
	}
	defer security.Zero(plain)

	var rec Record
	if err := json.Unmarshal(plain, &rec); err != nil || !rec.Activated || rec.KeyID == "" {
		return nil, errRecordInvalid
	}
	if rec.MachineID != s.device.MachineID() {
		return nil, errRecordInvalid
	}
	return &rec, nil
}

func (s *stateStore) sealRecord(rec *Record) ([]byte, error) {
	plain, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal license record: %w", err)
	}
	defer security.Zero(plain)
	return s.device.Seal(recordLabel, plain)
}

func (s *stateStore) sentinelExists() bool {
	return files.Exists(s.files.Sentinel)
}

func sentinelMessage(machineID, keyID string, activatedAt time.Time) []byte {
	return []byte("sentinel:" + machineID + ":" + keyID + ":" + activatedAt.UTC().Format(time.RFC3339Nano))
}

// buildSentinel returns the two-line marker: a MAC binding the activation to
// this machine, and the sealed key id.
func (s *stateStore) buildSentinel(keyID string, activatedAt time.Time) ([]byte, error) {
	mac := s.device.MAC(sentinelMessage(s.device.MachineID(), keyID, activatedAt))
	sealedID, err := s.device.Seal(sentinelLabel, []byte(keyID))
	if err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(mac) + "\n" + hex.EncodeToString(sealedID) + "\n"), nil
}

func (s *stateStore) readSentinel() (mac []byte, keyID string, err error) {
	raw, err := files.ReadLimited(s.files.Sentinel, maxStateFileSize)
	if err != nil {
		return nil, "", err
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		return nil, "", errors.New("integrity marker is malformed")
	}
	mac, err = hex.DecodeString(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, "", errors.New("integrity marker is malformed")
	}
	sealedID, err := hex.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, "", errors.New("integrity marker is malformed")
	}
	id, err := s.device.Open(sentinelLabel, sealedID)
	if err != nil {
		return nil, "", errors.New("integrity marker was not written on this device")
	}
	return mac, string(id), nil
}

// sentinelKeyID returns the key id recorded in the marker.
func (s *stateStore) sentinelKeyID() (string, bool) {
	_, id, err := s.readSentinel()
	if err != nil {
		return "", false
	}
	return id, true
}

// sentinelMatches reports whether the marker was written for rec.
func (s *stateStore) sentinelMatches(rec *Record) bool {
	mac, id, err := s.readSentinel()
	if err != nil || id != rec.KeyID {
		return false
	}
	return s.device.VerifyMAC(sentinelMessage(rec.MachineID, rec.KeyID, rec.ActivatedAt), mac)
}

// loadRegistry returns the consumed fingerprints and whether the file
// exists. A file that cannot be opened is reported as an error.
func (s *stateStore) loadRegistry() ([]string, bool, error) {
	sealed, err := files.ReadLimited(s.files.Registry, maxStateFileSize)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("failed to read consumed-token registry: %w", err)
	}
	plain, err := s.device.Open(registryLabel, sealed)
	if err != nil {
		return nil, true, errors.New("consumed-token registry cannot be decrypted")
	}
	var list []string
	if err := json.Unmarshal(plain, &list); err != nil {
		return nil, true, errors.New("consumed-token registry is corrupt")
	}
	return list, true, nil
}

func (s *stateStore) sealRegistry(list []string) ([]byte, error) {
	plain, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal consumed-token registry: %w", err)
	}
	return s.device.Seal(registryLabel, plain)
}
