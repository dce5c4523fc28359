package vault

import (
	"bytes"
	"context"
	"time"

	"casevault/internal/security"
)

// DeriveFunc derives a security.KeySize key. It must return a slice it
// allocated itself.
type DeriveFunc func(password, salt []byte, params security.Argon2Params) ([]byte, error)

type derivation struct {
	key []byte
	err error
}

// deriveAsync runs the KDF on its own goroutine and waits for the result or
// for ctx. The goroutine works on private copies of its inputs. If the
// caller gives up, a drainer receives the late key and zeroes it.
func (m *Manager) deriveAsync(ctx context.Context, password, salt []byte, params security.Argon2Params) ([]byte, error) {
	pw := bytes.Clone(password)
	sl := bytes.Clone(salt)
	result := make(chan derivation, 1)

	start := time.Now()
	go func() {
		defer security.Zero(pw)
		key, err := m.derive(pw, sl, params)
		result <- derivation{key: key, err: err}
	}()

	select {
	case r := <-result:
		m.metrics.KDFDuration.Record(ctx, time.Since(start).Seconds())
		return r.key, r.err
	case <-ctx.Done():
		go func() {
			r := <-result
			security.Zero(r.key)
		}()
		return nil, ctx.Err()
	}
}
