package backup_test

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/backup"
	apperrors "casevault/internal/errors"
	"casevault/internal/security"
)

var fastParams = security.Argon2Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1}

func newCodec(t *testing.T, opts ...backup.Option) *backup.Codec {
	t.Helper()
	c, err := backup.NewCodec(append([]backup.Option{backup.WithParams(fastParams)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newCodec(t)
	ctx := context.Background()
	plaintext := []byte(`{"cases":[{"id":1,"client":"Studio Rossi"}],"agenda":[]}`)

	env, err := c.Export(ctx, plaintext, []byte("backup-pass"))
	require.NoError(t, err)
	assert.Equal(t, backup.Version, env.Version)
	assert.Equal(t, security.KDFArgon2id, env.KDF.Algorithm)
	assert.Len(t, env.Salt, 2*security.SaltSize)
	assert.Len(t, env.IV, 2*security.NonceSize)
	assert.Len(t, env.AuthTag, 2*security.TagSize)

	encoded, err := backup.Encode(env)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "Rossi")
	assert.Contains(t, string(encoded), `"authTag":`)
	assert.Contains(t, string(encoded), `"kdf":{"alg":"argon2id","m":64,"t":1,"p":1}`)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)

	got, err := c.Import(ctx, decoded, []byte("backup-pass"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestExportUsesFreshSaltAndIV(t *testing.T) {
	c := newCodec(t)
	a, err := c.Export(context.Background(), []byte("x"), []byte("pw"))
	require.NoError(t, err)
	b, err := c.Export(context.Background(), []byte("x"), []byte("pw"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.IV, b.IV)
}

func TestExportRequiresPassword(t *testing.T) {
	_, err := newCodec(t).Export(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func flipHex(s string, i int) string {
	b, _ := hex.DecodeString(s)
	b[i] ^= 0x01
	return hex.EncodeToString(b)
}

func TestTamperAndWrongPassword(t *testing.T) {
	c := newCodec(t)
	ctx := context.Background()
	env, err := c.Export(ctx, []byte("the quick brown fox"), []byte("right"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		mutate   func(e backup.Envelope) backup.Envelope
		password string
	}{
		{"wrong password", func(e backup.Envelope) backup.Envelope { return e }, "wrong"},
		{"data byte", func(e backup.Envelope) backup.Envelope { e.Data = flipHex(e.Data, 3); return e }, "right"},
		{"tag byte", func(e backup.Envelope) backup.Envelope { e.AuthTag = flipHex(e.AuthTag, 0); return e }, "right"},
		{"iv byte", func(e backup.Envelope) backup.Envelope { e.IV = flipHex(e.IV, 11); return e }, "right"},
		{"salt byte", func(e backup.Envelope) backup.Envelope { e.Salt = flipHex(e.Salt, 31); return e }, "right"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(*env)
			_, err := c.Import(ctx, &mutated, []byte(tt.password))
			assert.ErrorIs(t, err, apperrors.ErrWrongPasswordOrCorrupt)
		})
	}
}

func TestStructuralProblemsAreMalformed(t *testing.T) {
	c := newCodec(t)
	ctx := context.Background()
	env, err := c.Export(ctx, []byte("payload"), []byte("pw"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(e backup.Envelope) backup.Envelope
	}{
		{"version", func(e backup.Envelope) backup.Envelope { e.Version = 2; return e }},
		{"salt not hex", func(e backup.Envelope) backup.Envelope { e.Salt = "zz"; return e }},
		{"short iv", func(e backup.Envelope) backup.Envelope { e.IV = e.IV[:10]; return e }},
		{"long tag", func(e backup.Envelope) backup.Envelope { e.AuthTag += "00"; return e }},
		{"odd data", func(e backup.Envelope) backup.Envelope { e.Data += "0"; return e }},
		{"unknown kdf", func(e backup.Envelope) backup.Envelope {
			e.KDF = &backup.KDF{Algorithm: "scrypt", Argon2Params: fastParams}
			return e
		}},
		{"huge memory", func(e backup.Envelope) backup.Envelope {
			e.KDF = &backup.KDF{Algorithm: "argon2id", Argon2Params: security.Argon2Params{MemoryKiB: 1 << 30, Iterations: 1, Parallelism: 1}}
			return e
		}},
		{"zero iterations", func(e backup.Envelope) backup.Envelope {
			e.KDF = &backup.KDF{Algorithm: "argon2id", Argon2Params: security.Argon2Params{MemoryKiB: 64, Parallelism: 1}}
			return e
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutated := tt.mutate(*env)
			_, err := c.Import(ctx, &mutated, []byte("pw"))
			assert.ErrorIs(t, err, apperrors.ErrMalformedInput)
		})
	}

	_, err = c.Import(ctx, nil, []byte("pw"))
	assert.ErrorIs(t, err, apperrors.ErrMalformedInput)
}

func TestDecode(t *testing.T) {
	c := newCodec(t, backup.WithMaxSize(1024))

	tests := []struct {
		name  string
		input string
	}{
		{"not json", "hello"},
		{"unknown field", `{"v":1,"salt":"","iv":"","authTag":"","data":"","extra":1}`},
		{"trailing data", `{"v":1} {}`},
		{"too large", `{"v":1,"data":"` + strings.Repeat("00", 600) + `"}`},
		{"bad lengths", `{"v":1,"salt":"00","iv":"00","authTag":"00","data":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode([]byte(tt.input))
			assert.ErrorIs(t, err, apperrors.ErrMalformedInput)
		})
	}

	_, err := c.DecodeReader(strings.NewReader(strings.Repeat(" ", 2048)))
	assert.ErrorIs(t, err, apperrors.ErrMalformedInput)
}

func TestMissingKDFUsesDefaults(t *testing.T) {
	c, err := backup.NewCodec()
	require.NoError(t, err)
	ctx := context.Background()

	env, err := c.Export(ctx, []byte("legacy"), []byte("pw"))
	require.NoError(t, err)
	env.KDF = nil

	encoded, err := backup.Encode(env)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "kdf")

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	got, err := c.Import(ctx, decoded, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy"), got)
}
