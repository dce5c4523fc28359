// Package security holds the cryptographic primitives of the trust boundary:
// Argon2id key derivation, AES-256-GCM sealing (combined and tag-detached),
// the HKDF-derived device key that binds license state to one install, the
// locked-memory SecretBuffer for vault keys, and password strength rules.
package security
