package vault

import (
	"context"
	"time"
)

// Touch records user activity and postpones auto-lock.
func (m *Manager) Touch() {
	m.lastActivity.Store(m.now().UnixNano())
}

// SetAutolockMinutes changes the idle timeout. Zero disables auto-lock.
func (m *Manager) SetAutolockMinutes(minutes int) {
	if minutes < 0 {
		minutes = 0
	}
	m.autolock.Store(int64(time.Duration(minutes) * time.Minute))
	m.Touch()
}

// AutolockMinutes returns the idle timeout in minutes.
func (m *Manager) AutolockMinutes() int {
	return int(time.Duration(m.autolock.Load()) / time.Minute)
}

// CheckIdle emits one vault.warning per idle period once the vault has been
// idle for the timeout minus the warning lead, and locks it when the timeout
// passes.
func (m *Manager) CheckIdle() {
	timeout := time.Duration(m.autolock.Load())
	if timeout <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == nil {
		return
	}

	last := m.lastActivity.Load()
	idle := m.now().Sub(time.Unix(0, last))
	switch {
	case idle >= timeout:
		m.lockLocked(context.Background(), LockReasonIdle)
	case idle >= timeout-m.warningLead && m.warnedFor != last:
		m.warnedFor = last
		m.emit(Event{Type: EventWarning, Remaining: timeout - idle})
	}
}

// Watch calls CheckIdle every interval until ctx ends, then locks the vault.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.LockWithReason(LockReasonShutdown)
			return nil
		case <-ticker.C:
			m.CheckIdle()
		}
	}
}
