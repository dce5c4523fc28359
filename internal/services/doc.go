// Package services holds the application logic between the HTTP handlers
// and the license, vault and backup components.
//
// Services shape component results into API responses, apply cross-cutting
// rules such as locking the vault when the license is tampered with, and
// publish events to the websocket hub. They hold no state of their own.
package services
