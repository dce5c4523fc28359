// Package vault owns the data-store key.
//
// The key is never stored. It is derived with Argon2id from the user's
// password and a per-vault salt, and proven by opening an AES-GCM check
// block whose plaintext is known. While the vault is unlocked the key lives
// in a security.SecretBuffer; Lock, auto-lock, shutdown and any detected
// tampering zero it.
//
// # Files
//
//	vault.salt    32 random bytes
//	vault.check   {"v":1,"kdf":{"alg","m","t","p"},"check":"<hex>"}
//	vault.dat     data store sealed under the key
//	vault.audit   audit log sealed under the key
//	.bio-enabled  password wrapped under the keychain wrap key
//
// # Unlock Paths
//
// Password unlock and every other password check go through the shared
// lockout controller under the "vault" operation: a locked controller
// refuses before any key derivation, and only a wrong password counts as a
// failure. The first Unlock on an empty directory creates the vault.
//
// Biometric unlock is refused while the vault lockout is engaged. Prompt
// failures are counted separately and never touch the lockout; after
// MaxFailures the path stays closed until a password unlock succeeds.
package vault
