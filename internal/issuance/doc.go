// Package issuance is the operator side of licensing: it holds the Ed25519
// signing key, mints tokens and keeps an encrypted ledger of every token it
// has issued. Nothing here is linked into the desktop application.
//
// The ledger is a JSON list of entries encrypted with an age scrypt
// recipient. It records token fingerprints, never tokens, using the same
// fingerprint function as the consumed-token registry so an operator can
// match a support request against both.
package issuance
