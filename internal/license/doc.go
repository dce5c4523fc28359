// Package license implements offline license activation for a single
// install.
//
// # Tokens
//
// A token has the form
//
//	CVLT.<base64url payload>.<base64url signature>
//
// where the payload is compact JSON ({"sub","iat","exp","kid","n"}) and the
// signature is Ed25519 over the payload segment exactly as it appears in the
// token. The verification key is linked into the binary through
// PublicKeyHex; the signing key only exists in the issuance tool.
//
// # Activation State
//
// Three files in the security directory describe the install:
//
//	- license.rec: the activation record, sealed with the device key
//	- .license-sentinel: a MAC proving an activation happened here, plus the
//	  sealed key id
//	- .burned-keys: the sealed list of consumed token fingerprints
//
// The record never holds the token itself, only its Fingerprint. A marker
// without a valid record is reported as tampering, and only the original key
// id may re-activate. FactoryReset keeps the consumed list.
//
// # Activation Flow
//
//	1. Queue on the activation semaphore (cancellable)
//	2. Refuse while the activation lockout is engaged, before reading input
//	3. Parse, verify the signature, check expiry
//	4. Apply the consumed-token and marker rules
//	5. Commit registry, record and marker in one transaction
//
// Every rejection in steps 3 and 4 counts as one lockout failure. Malformed,
// bad-signature and expired tokens all surface to the user as the same
// "invalid or expired key" message while logs keep the distinct reason.
package license
