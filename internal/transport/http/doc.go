// Package http holds the JSON handlers of the loopback API.
//
// Handlers decode and validate requests, call a service and shape the
// result. Failures render as RFC 7807 problem details through
// errors.ErrorHandler, except on the unlock and activation routes, which
// answer with their own {success, error} body so the UI can show the
// message inline. Every lockout rejection, on any route, answers 429 with a
// Retry-After header and {"success": false, "locked": true, "remaining": n}.
package http
