package vault

import "time"

// EventType names a vault lifecycle event.
type EventType string

const (
	EventUnlocked EventType = "vault.unlocked"
	EventLocked   EventType = "vault.locked"
	EventWarning  EventType = "vault.warning"
)

// Lock reasons carried by EventLocked.
const (
	LockReasonManual   = "manual"
	LockReasonIdle     = "idle"
	LockReasonShutdown = "shutdown"
	LockReasonTamper   = "tamper"
	LockReasonReset    = "reset"
)

// Event is published to the EventSink. Remaining is set on warnings.
type Event struct {
	Type      EventType     `json:"type"`
	Reason    string        `json:"reason,omitempty"`
	Method    string        `json:"method,omitempty"`
	Remaining time.Duration `json:"-"`
	At        time.Time     `json:"at"`
}

// RemainingSeconds is Remaining rounded up to whole seconds.
func (e Event) RemainingSeconds() int64 {
	if e.Remaining <= 0 {
		return 0
	}
	return int64((e.Remaining + time.Second - 1) / time.Second)
}

// EventSink receives vault events. It is called synchronously and must not
// call back into the Manager.
type EventSink func(Event)
