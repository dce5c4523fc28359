// keyissuer is the operator tool that creates signing keys, mints license
// tokens and maintains the encrypted ledger of issued tokens. It is never
// shipped with the application.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const usage = `usage: keyissuer <command> [flags]

commands:
  keygen          create a new Ed25519 signing key
  generate        mint a license token and record it in the ledger
  list            show every issued token
  verify          decode and check a token
  revoke          mark a token revoked
  mark-activated  mark a token activated
  export          export the ledger as csv or xlsx
  stats           ledger totals and per-client counts
  publish         push the ledger to a Google Sheet

Run "keyissuer <command> --help" for command flags.
`

func main() {
	c := &cli{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		stdin:      bufio.NewReader(os.Stdin),
		getenv:     os.Getenv,
		now:        time.Now,
		isTerminal: func() bool { return term.IsTerminal(int(os.Stdin.Fd())) },
		readSecret: func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) },
	}
	if err := c.run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
