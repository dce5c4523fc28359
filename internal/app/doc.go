// Package app wires the Casevault trust boundary into a running process.
//
// NewApplication builds the components in dependency order: configuration,
// logging, OpenTelemetry, paths, the device key, the event hub, the shared
// lockout controller, the license activator, the vault manager, the backup
// codec, the services and finally the chi router and HTTP server. Nothing is
// started until Run.
//
// # Routing
//
//	RequestID -> RealIP -> StructuredLogger -> Recoverer -> SecurityHeaders
//	  -> LoopbackHost -> RateLimiter
//	    /ws, /metrics
//	    OTel -> LicenseGate -> /api/...
//
// The license gate only guards /api/vault and /api/session; health, license,
// the event stream and metrics stay reachable before activation.
//
// # Lifecycle
//
// Run listens on the loopback address from configuration and runs the
// server, the event hub and the auto-lock watcher in one errgroup. SIGINT,
// SIGTERM or cancellation of the caller's context shuts the server down and
// locks the vault before Run returns. The package never calls os.Exit.
package app
