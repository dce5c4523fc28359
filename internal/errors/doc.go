// Package errors defines the trust boundary's error taxonomy and its RFC 7807
// rendering.
//
// Every failure surfaced by the license, vault and backup packages is an
// *AppError carrying an ErrorType. Callers branch with errors.Is against the
// exported sentinels (matching is by type) and recover the lockout countdown
// with RemainingOf. UserMessage is the only text that may reach an end user:
// malformed, forged and expired tokens all read "invalid or expired key".
package errors
