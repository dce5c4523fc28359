package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"casevault/internal/issuance"
	"casevault/internal/security"
)

func (c *cli) openLedger(lf ledgerFlags) (*issuance.Ledger, error) {
	pass, err := c.passphrase(lf)
	if err != nil {
		return nil, err
	}
	var opts []issuance.LedgerOption
	if c.workFactor > 0 {
		opts = append(opts, issuance.WithWorkFactor(c.workFactor))
	}
	return issuance.OpenLedger(lf.path, pass, opts...)
}

// passphrase reads the ledger passphrase from the environment or the
// terminal. Creating a ledger asks twice and enforces a minimum length.
func (c *cli) passphrase(lf ledgerFlags) (string, error) {
	creating := !issuance.Exists(lf.path)

	if lf.passphraseEnv != "" {
		pass := c.getenv(lf.passphraseEnv)
		if pass == "" {
			return "", fmt.Errorf("environment variable %s is empty", lf.passphraseEnv)
		}
		if creating && len(pass) < issuance.MinPassphraseLength {
			return "", fmt.Errorf("ledger passphrase must be at least %d characters", issuance.MinPassphraseLength)
		}
		return pass, nil
	}

	if !c.isTerminal() {
		return "", errors.New("no terminal for the passphrase prompt; use --passphrase-env")
	}

	if !creating {
		first, err := c.prompt("Ledger passphrase: ")
		if err != nil {
			return "", err
		}
		defer security.Zero(first)
		return string(first), nil
	}

	fmt.Fprintf(c.stderr, "Creating a new ledger at %s.\n", lf.path)
	first, err := c.prompt("New passphrase: ")
	if err != nil {
		return "", err
	}
	defer security.Zero(first)
	second, err := c.prompt("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	defer security.Zero(second)

	if subtle.ConstantTimeCompare(first, second) != 1 {
		return "", errors.New("passphrases do not match")
	}
	if len(first) < issuance.MinPassphraseLength {
		return "", fmt.Errorf("ledger passphrase must be at least %d characters", issuance.MinPassphraseLength)
	}
	return string(first), nil
}

func (c *cli) prompt(label string) ([]byte, error) {
	fmt.Fprint(c.stderr, label)
	b, err := c.readSecret()
	fmt.Fprintln(c.stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return b, nil
}

func (c *cli) confirm(question string) (bool, error) {
	fmt.Fprintf(c.stderr, "%s [y/N]: ", question)
	line, err := c.stdin.ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
