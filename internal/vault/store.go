package vault

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"casevault/internal/config"
	"casevault/internal/files"
	"casevault/internal/security"
)

const (
	checkPlaintext = "casevault-check-v1"
	dataLabel      = "casevault-data-v1"
	auditLabel     = "casevault-audit-v1"
	biometricLabel = "casevault-bio-v1"

	checkVersion = 1

	maxCheckFileSize = 64 << 10
	maxSaltFileSize  = 1 << 10
)

// emptyDataStore is written when a vault is created.
var emptyDataStore = []byte(`{"cases":[],"agenda":[]}`)

// Files locates the vault inside the data directory.
type Files struct {
	Salt      string
	Check     string
	Data      string
	Audit     string
	Biometric string
}

// FilesFrom picks the vault files out of the resolved application paths.
func FilesFrom(p *config.Paths) Files {
	return Files{
		Salt:      p.VaultSaltFile,
		Check:     p.VaultCheckFile,
		Data:      p.VaultDataFile,
		Audit:     p.VaultAuditFile,
		Biometric: p.BiometricMarker,
	}
}

func (f Files) all() []string {
	return []string{f.Data, f.Salt, f.Check, f.Audit, f.Biometric}
}

// checkBlock is the on-disk proof that a derived key is the vault key. The
// KDF parameters travel with it so a configuration change never strands an
// existing vault.
type checkBlock struct {
	Version int           `json:"v"`
	KDF     kdfDescriptor `json:"kdf"`
	Sealed  string        `json:"check"`
}

type kdfDescriptor struct {
	Algorithm string `json:"alg"`
	security.Argon2Params
}

var errCheckInvalid = errors.New("vault check block is unreadable")

func newCheckBlock(key []byte, params security.Argon2Params) ([]byte, error) {
	sealed, err := security.Seal(key, []byte(checkPlaintext), []byte(checkPlaintext))
	if err != nil {
		return nil, err
	}
	return json.Marshal(checkBlock{
		Version: checkVersion,
		KDF:     kdfDescriptor{Algorithm: security.KDFArgon2id, Argon2Params: params},
		Sealed:  hex.EncodeToString(sealed),
	})
}

func loadCheckBlock(path string) (*checkBlock, error) {
	raw, err := files.ReadLimited(path, maxCheckFileSize)
	if err != nil {
		return nil, err
	}
	var cb checkBlock
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", errCheckInvalid, err)
	}
	if cb.Version != checkVersion || cb.KDF.Algorithm != security.KDFArgon2id {
		return nil, fmt.Errorf("%w: unsupported version or algorithm", errCheckInvalid)
	}
	if err := cb.KDF.Argon2Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errCheckInvalid, err)
	}
	return &cb, nil
}

func (cb *checkBlock) params() security.Argon2Params {
	return cb.KDF.Argon2Params
}

// opens reports whether key decrypts the check block.
func (cb *checkBlock) opens(key []byte) bool {
	sealed, err := hex.DecodeString(cb.Sealed)
	if err != nil {
		return false
	}
	plain, err := security.Open(key, sealed, []byte(checkPlaintext))
	if err != nil {
		return false
	}
	return security.SecureCompare(plain, []byte(checkPlaintext))
}

func loadSalt(path string) ([]byte, error) {
	salt, err := files.ReadLimited(path, maxSaltFileSize)
	if err != nil {
		return nil, err
	}
	if len(salt) != security.SaltSize {
		return nil, fmt.Errorf("vault salt has length %d", len(salt))
	}
	return salt, nil
}

// readData returns the decrypted data store, or the empty store when the
// file does not exist yet.
func readData(path string, key []byte) ([]byte, error) {
	sealed, err := files.ReadLimited(path, maxDataSize)
	if errors.Is(err, fs.ErrNotExist) {
		return append([]byte(nil), emptyDataStore...), nil
	}
	if err != nil {
		return nil, err
	}
	return security.Open(key, sealed, []byte(dataLabel))
}

func sealData(key, plaintext []byte) ([]byte, error) {
	return security.Seal(key, plaintext, []byte(dataLabel))
}

// keyMaterial is everything written when a vault is (re)keyed.
type keyMaterial struct {
	salt  []byte
	check []byte
	data  []byte
}

// stage queues data, salt and check in that order. A crash between renames
// leaves the previous file set in the .bak copies.
func (km keyMaterial) stage(tx *files.Transaction, f Files) error {
	for _, item := range []struct {
		path string
		data []byte
	}{
		{f.Data, km.data},
		{f.Salt, km.salt},
		{f.Check, km.check},
	} {
		if err := tx.Stage(item.path, item.data); err != nil {
			return err
		}
	}
	return nil
}
