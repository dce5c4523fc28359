package main

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casevault/internal/issuance"
	"casevault/internal/license"
)

const passEnv = "KEYISSUER_TEST_PASS"

type harness struct {
	c      *cli
	out    *bytes.Buffer
	dir    string
	key    string
	ledger string
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()
	dir := t.TempDir()
	out := &bytes.Buffer{}
	h := &harness{
		out:    out,
		dir:    dir,
		key:    filepath.Join(dir, "signing.key"),
		ledger: filepath.Join(dir, "ledger.age"),
	}
	h.c = &cli{
		stdout: out,
		stderr: &bytes.Buffer{},
		stdin:  bufio.NewReader(strings.NewReader(stdin)),
		getenv: func(k string) string {
			if k == passEnv {
				return "ledger-passphrase"
			}
			return ""
		},
		now:        time.Now,
		isTerminal: func() bool { return false },
		readSecret: func() ([]byte, error) { return nil, os.ErrClosed },
		workFactor: 10,
	}
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	h.out.Reset()
	err := h.c.run(args)
	return h.out.String(), err
}

func (h *harness) ledgerArgs(args ...string) []string {
	return append(args, "--ledger", h.ledger, "--passphrase-env", passEnv)
}

func tokenFrom(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	return lines[len(lines)-1]
}

func TestKeygenAndGenerate(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.run(t, "keygen", "--out", h.key)
	require.NoError(t, err)
	assert.Contains(t, out, "public key: ")

	_, err = h.run(t, "keygen", "--out", h.key)
	assert.Error(t, err, "keygen must not overwrite a key")

	out, err = h.run(t, h.ledgerArgs("generate", "--key", h.key, "--client", "Studio Bianchi", "--id", "lic-001", "--days", "30")...)
	require.NoError(t, err)
	token := tokenFrom(out)
	tok, err := license.Parse(token, license.DefaultProductTag)
	require.NoError(t, err)
	assert.Equal(t, "Studio Bianchi", tok.Claims.Subject)
	assert.Equal(t, "lic-001", tok.Claims.KeyID)

	l, err := issuance.OpenLedger(h.ledger, "ledger-passphrase", issuance.WithWorkFactor(10))
	require.NoError(t, err)
	e, err := l.Find("lic-001")
	require.NoError(t, err)
	assert.Equal(t, license.Fingerprint(token), e.Fingerprint)
}

func TestGenerateDuplicateIDNeedsConfirmation(t *testing.T) {
	h := newHarness(t, "n\n")
	_, err := h.run(t, "keygen", "--out", h.key)
	require.NoError(t, err)

	gen := h.ledgerArgs("generate", "--key", h.key, "--client", "A", "--id", "dup", "--perpetual")
	_, err = h.run(t, gen...)
	require.NoError(t, err)

	_, err = h.run(t, gen...)
	assert.EqualError(t, err, "aborted")

	_, err = h.run(t, append(gen, "--force")...)
	require.NoError(t, err)

	out, err := h.run(t, h.ledgerArgs("stats")...)
	require.NoError(t, err)
	assert.Contains(t, out, "total:     2")
}

func TestStatusCommandsAndList(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.run(t, "keygen", "--out", h.key)
	require.NoError(t, err)

	for _, id := range []string{"k1", "k2"} {
		_, err = h.run(t, h.ledgerArgs("generate", "--key", h.key, "--client", "Studio Verdi", "--id", id)...)
		require.NoError(t, err)
	}

	out, err := h.run(t, h.ledgerArgs("mark-activated", "k1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "k1 (Studio Verdi): activated")

	_, err = h.run(t, h.ledgerArgs("revoke", "k2")...)
	require.NoError(t, err)
	_, err = h.run(t, h.ledgerArgs("mark-activated", "k2")...)
	assert.ErrorIs(t, err, issuance.ErrInvalidTransition)

	out, err = h.run(t, h.ledgerArgs("list")...)
	require.NoError(t, err)
	assert.Contains(t, out, "activated")
	assert.Contains(t, out, "revoked")
	assert.Contains(t, out, "total 2, valid 0, activated 1, revoked 1, expired 0")
}

func TestVerifyCommand(t *testing.T) {
	h := newHarness(t, "")
	out, err := h.run(t, "keygen", "--out", h.key)
	require.NoError(t, err)
	pub := strings.TrimPrefix(strings.Split(out, "\n")[1], "public key: ")

	out, err = h.run(t, h.ledgerArgs("generate", "--key", h.key, "--client", "Studio Neri")...)
	require.NoError(t, err)
	token := tokenFrom(out)

	out, err = h.run(t, h.ledgerArgs("verify", token, "--pubkey", pub)...)
	require.NoError(t, err)
	assert.Contains(t, out, "signature:   valid")
	assert.Contains(t, out, "ledger:      found (issued)")

	other, err := issuance.GenerateKey()
	require.NoError(t, err)
	out, err = h.run(t, "verify", token, "--pubkey", other.PublicKeyHex(), "--no-ledger")
	assert.Error(t, err)
	assert.Contains(t, out, "signature:   INVALID")
	assert.Contains(t, out, "ledger:      not checked")
}

func TestExportCommand(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.run(t, "keygen", "--out", h.key)
	require.NoError(t, err)
	_, err = h.run(t, h.ledgerArgs("generate", "--key", h.key, "--client", "Studio Rossi", "--id", "x1")...)
	require.NoError(t, err)

	csvPath := filepath.Join(h.dir, "out.csv")
	_, err = h.run(t, h.ledgerArgs("export", "--format", "csv", "--out", csvPath)...)
	require.NoError(t, err)
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "x1", rows[1][0])

	xlsxPath := filepath.Join(h.dir, "out.xlsx")
	_, err = h.run(t, h.ledgerArgs("export", "--format", "xlsx", "--out", xlsxPath)...)
	require.NoError(t, err)
	assert.FileExists(t, xlsxPath)

	_, err = h.run(t, h.ledgerArgs("export", "--format", "pdf")...)
	assert.Error(t, err)
}

func TestPassphraseRules(t *testing.T) {
	h := newHarness(t, "")
	h.c.getenv = func(string) string { return "short" }

	_, err := h.run(t, "list", "--ledger", h.ledger, "--passphrase-env", "ANY")
	assert.ErrorContains(t, err, "at least 8 characters")

	_, err = h.run(t, "list", "--ledger", h.ledger)
	assert.ErrorContains(t, err, "--passphrase-env")
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.run(t, "frobnicate")
	assert.Error(t, err)
	_, err = h.run(t)
	assert.Error(t, err)
}
