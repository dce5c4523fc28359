package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/api/option"

	"casevault/internal/files"
	"casevault/internal/issuance"
	"casevault/internal/license"
)

type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	stdin      *bufio.Reader
	getenv     func(string) string
	now        func() time.Time
	isTerminal func() bool
	readSecret func() ([]byte, error)

	// workFactor overrides the ledger scrypt cost; zero keeps age's default.
	workFactor int
}

// ledgerFlags are shared by every command that touches the ledger.
type ledgerFlags struct {
	path          string
	passphraseEnv string
}

func (lf *ledgerFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&lf.path, "ledger", issuance.DefaultLedgerFile, "path to the encrypted ledger")
	fs.StringVar(&lf.passphraseEnv, "passphrase-env", "", "read the ledger passphrase from this environment variable")
}

func (c *cli) run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return errors.New("no command given")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "keygen":
		return c.keygen(rest)
	case "generate":
		return c.generate(rest)
	case "list":
		return c.list(rest)
	case "verify":
		return c.verify(rest)
	case "revoke":
		return c.setStatus("revoke", issuance.StatusRevoked, rest)
	case "mark-activated":
		return c.setStatus("mark-activated", issuance.StatusActivated, rest)
	case "export":
		return c.export(rest)
	case "stats":
		return c.stats(rest)
	case "publish":
		return c.publish(rest)
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usage)
		return nil
	default:
		fmt.Fprint(c.stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *cli) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("keyissuer "+name, pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) keygen(args []string) error {
	fs := c.flagSet("keygen")
	out := fs.String("out", "", "file to write the private seed to (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("--out is required")
	}

	kp, err := issuance.GenerateKey()
	if err != nil {
		return err
	}
	if err := issuance.WriteKeyFile(*out, kp.Seed); err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "private key written to %s (keep it offline)\n", *out)
	fmt.Fprintf(c.stdout, "public key: %s\n", kp.PublicKeyHex())
	fmt.Fprintf(c.stdout, "build with: -ldflags \"-X casevault/internal/license.PublicKeyHex=%s\"\n", kp.PublicKeyHex())
	return nil
}

func (c *cli) generate(args []string) error {
	fs := c.flagSet("generate")
	var lf ledgerFlags
	lf.register(fs)
	keyPath := fs.String("key", "", "private key file from keygen (required)")
	client := fs.String("client", "", "client or firm name (required)")
	id := fs.String("id", "", "license id (default: random 8 characters)")
	expires := fs.String("expires", "", "expiry date YYYY-MM-DD")
	days := fs.Int("days", 0, "expire after this many days")
	perpetual := fs.Bool("perpetual", false, "never expire")
	force := fs.Bool("force", false, "reuse an existing id without asking")
	tag := fs.String("tag", license.DefaultProductTag, "product tag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyPath == "" || strings.TrimSpace(*client) == "" {
		return errors.New("--key and --client are required")
	}

	priv, err := issuance.LoadKeyFile(*keyPath)
	if err != nil {
		return err
	}
	iss, err := issuance.NewIssuer(priv, *tag)
	if err != nil {
		return err
	}
	exp, err := issuance.ResolveExpiry(c.now(), issuance.ExpiryOptions{
		Date:      *expires,
		Days:      *days,
		Perpetual: *perpetual,
	})
	if err != nil {
		return err
	}

	ledger, err := c.openLedger(lf)
	if err != nil {
		return err
	}
	if *id != "" && ledger.HasID(*id) && !*force {
		ok, err := c.confirm(fmt.Sprintf("id %q is already in the ledger, issue another token with it?", *id))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("aborted")
		}
	}

	out, err := iss.Issue(issuance.Request{Client: *client, ID: *id, ExpiresAt: exp})
	if err != nil {
		return err
	}
	ledger.Append(out.Entry)
	if err := ledger.Save(); err != nil {
		return err
	}

	e := out.Entry
	fmt.Fprintf(c.stdout, "client:      %s\n", e.Client)
	fmt.Fprintf(c.stdout, "id:          %s\n", e.ID)
	fmt.Fprintf(c.stdout, "expires:     %s\n", formatExpiry(e.ExpiresAt))
	fmt.Fprintf(c.stdout, "fingerprint: %s\n", e.Fingerprint[:16])
	fmt.Fprintf(c.stdout, "ledger:      %d tokens\n\n", ledger.Len())
	fmt.Fprintln(c.stdout, out.Token)
	return nil
}

func (c *cli) list(args []string) error {
	fs := c.flagSet("list")
	var lf ledgerFlags
	lf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ledger, err := c.openLedger(lf)
	if err != nil {
		return err
	}

	entries := ledger.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(c.stdout, "no tokens issued")
		return nil
	}

	now := c.now()
	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tCLIENT\tISSUED\tEXPIRES\tSTATUS\tFINGERPRINT")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, e.ID, e.Client, e.IssuedAt.Format("2006-01-02"),
			formatExpiry(e.ExpiresAt), e.DisplayStatus(now), e.Fingerprint[:min(12, len(e.Fingerprint))])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := issuance.Summarize(entries, now)
	fmt.Fprintf(c.stdout, "\ntotal %d, valid %d, activated %d, revoked %d, expired %d\n",
		s.Total, s.Valid, s.Activated, s.Revoked, s.Expired)
	return nil
}

func (c *cli) verify(args []string) error {
	fs := c.flagSet("verify")
	var lf ledgerFlags
	lf.register(fs)
	pubHex := fs.String("pubkey", "", "hex Ed25519 public key to check the signature with")
	noLedger := fs.Bool("no-ledger", false, "skip the ledger lookup")
	tag := fs.String("tag", license.DefaultProductTag, "product tag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: keyissuer verify <token>")
	}

	var pub ed25519.PublicKey
	if *pubHex != "" {
		var err error
		if pub, err = license.ParsePublicKeyHex(*pubHex); err != nil {
			return err
		}
	}

	var ledger *issuance.Ledger
	if !*noLedger && issuance.Exists(lf.path) {
		var err error
		if ledger, err = c.openLedger(lf); err != nil {
			return err
		}
	}

	r, err := issuance.Inspect(fs.Arg(0), *tag, pub, ledger, c.now())
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "client:      %s\n", r.Claims.Subject)
	fmt.Fprintf(c.stdout, "id:          %s\n", r.Claims.KeyID)
	fmt.Fprintf(c.stdout, "issued:      %s\n", time.UnixMilli(r.Claims.IssuedAt).UTC().Format(time.RFC3339))
	exp, ok := r.Claims.Expiry()
	expiry := "never"
	if ok {
		expiry = exp.Format(time.RFC3339)
	}
	if r.Expired {
		expiry += " (expired)"
	}
	fmt.Fprintf(c.stdout, "expires:     %s\n", expiry)

	switch {
	case !r.SignatureChecked:
		fmt.Fprintln(c.stdout, "signature:   not checked (no --pubkey)")
	case r.SignatureValid:
		fmt.Fprintln(c.stdout, "signature:   valid")
	default:
		fmt.Fprintln(c.stdout, "signature:   INVALID")
	}
	fmt.Fprintf(c.stdout, "fingerprint: %s\n", r.Fingerprint)

	switch {
	case ledger == nil:
		fmt.Fprintln(c.stdout, "ledger:      not checked")
	case r.Entry != nil:
		fmt.Fprintf(c.stdout, "ledger:      found (%s)\n", r.Entry.DisplayStatus(c.now()))
	default:
		fmt.Fprintln(c.stdout, "ledger:      not found")
	}

	if r.SignatureChecked && !r.SignatureValid {
		return errors.New("signature does not match")
	}
	return nil
}

func (c *cli) setStatus(name string, status issuance.Status, args []string) error {
	fs := c.flagSet(name)
	var lf ledgerFlags
	lf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: keyissuer %s <id>", name)
	}

	ledger, err := c.openLedger(lf)
	if err != nil {
		return err
	}
	e, err := ledger.SetStatus(fs.Arg(0), status)
	if err != nil {
		return err
	}
	if err := ledger.Save(); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s (%s): %s\n", e.ID, e.Client, e.Status)
	return nil
}

func (c *cli) export(args []string) error {
	fs := c.flagSet("export")
	var lf ledgerFlags
	lf.register(fs)
	format := fs.String("format", "csv", "csv or xlsx")
	out := fs.String("out", "", "output file (default: issued-keys.<format>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	f := issuance.Format(strings.ToLower(*format))
	if f != issuance.FormatCSV && f != issuance.FormatXLSX {
		return fmt.Errorf("unsupported format %q", *format)
	}
	if *out == "" {
		*out = "issued-keys." + string(f)
	}

	ledger, err := c.openLedger(lf)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := issuance.Export(&buf, f, ledger.Entries(), c.now()); err != nil {
		return err
	}
	if err := files.WriteAtomic(*out, buf.Bytes()); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "exported %d tokens to %s\n", ledger.Len(), *out)
	return nil
}

func (c *cli) stats(args []string) error {
	fs := c.flagSet("stats")
	var lf ledgerFlags
	lf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ledger, err := c.openLedger(lf)
	if err != nil {
		return err
	}

	s := issuance.Summarize(ledger.Entries(), c.now())
	fmt.Fprintf(c.stdout, "total:     %d\n", s.Total)
	fmt.Fprintf(c.stdout, "valid:     %d\n", s.Valid)
	fmt.Fprintf(c.stdout, "activated: %d\n", s.Activated)
	fmt.Fprintf(c.stdout, "revoked:   %d\n", s.Revoked)
	fmt.Fprintf(c.stdout, "expired:   %d\n", s.Expired)
	if len(s.PerClient) > 0 {
		fmt.Fprintln(c.stdout, "\nper client:")
		tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
		for _, cc := range s.PerClient {
			fmt.Fprintf(tw, "  %s\t%d\n", cc.Client, cc.Count)
		}
		return tw.Flush()
	}
	return nil
}

func (c *cli) publish(args []string) error {
	fs := c.flagSet("publish")
	var lf ledgerFlags
	lf.register(fs)
	sheetID := fs.String("sheet-id", "", "target spreadsheet id (required)")
	credentials := fs.String("credentials", "", "service account JSON file (required)")
	sheet := fs.String("sheet", issuance.DefaultSheetName, "sheet tab name")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sheetID == "" || *credentials == "" {
		return errors.New("--sheet-id and --credentials are required")
	}

	ledger, err := c.openLedger(lf)
	if err != nil {
		return err
	}
	creds, err := os.ReadFile(*credentials)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p, err := issuance.NewPublisher(ctx, *sheetID, *sheet, option.WithCredentialsJSON(creds))
	if err != nil {
		return err
	}
	n, err := p.Publish(ctx, ledger.Entries(), c.now())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "published %d tokens to sheet %q\n", n, *sheet)
	return nil
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02")
}
