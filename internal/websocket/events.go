package websocket

import (
	"time"

	"casevault/internal/lockout"
	"casevault/internal/vault"
)

// Message types pushed to clients.
const (
	TypeConnection       = "connection"
	TypeVaultUnlocked    = string(vault.EventUnlocked)
	TypeVaultLocked      = string(vault.EventLocked)
	TypeVaultWarning     = string(vault.EventWarning)
	TypeLockoutChanged   = "lockout.changed"
	TypeLicenseActivated = "license.activated"
	TypeLicenseTampered  = "license.tampered"
	TypeLicenseReset     = "license.reset"
)

// Message is the envelope for every event on the stream.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// VaultEvent is the payload of vault.* messages.
type VaultEvent struct {
	Reason    string `json:"reason,omitempty"`
	Method    string `json:"method,omitempty"`
	Remaining int64  `json:"remaining,omitempty"`
}

// LockoutEvent is the payload of lockout.changed.
type LockoutEvent struct {
	Operation string `json:"operation"`
	Locked    bool   `json:"locked"`
	Remaining int64  `json:"remaining"`
	Failures  uint32 `json:"failures"`
}

// VaultSink forwards vault events to the hub. Publish never blocks, so the
// sink is safe to call under the vault manager's lock.
func VaultSink(h *Hub) vault.EventSink {
	return func(e vault.Event) {
		at := e.At
		if at.IsZero() {
			at = time.Now()
		}
		h.Publish(Message{
			Type: string(e.Type),
			Data: VaultEvent{
				Reason:    e.Reason,
				Method:    e.Method,
				Remaining: e.RemainingSeconds(),
			},
			Timestamp: at,
		})
	}
}

// LockoutNotifier forwards lockout transitions to the hub.
func LockoutNotifier(h *Hub) lockout.Notifier {
	return func(op lockout.Operation, st lockout.Status) {
		h.Publish(Message{
			Type: TypeLockoutChanged,
			Data: LockoutEvent{
				Operation: string(op),
				Locked:    st.Locked,
				Remaining: st.RemainingSeconds(),
				Failures:  st.Failures,
			},
		})
	}
}
