// Package lockout implements the brute-force gate shared by license
// activation and vault unlock.
//
// Each Operation has its own consecutive-failure counter. Once the counter
// reaches the threshold the operation is locked for Backoff(n), which
// doubles per further failure up to a ceiling. A lock ends on its own when
// the clock passes locked_until; only RecordSuccess or Reset zero the
// counter. State is written to lockout.json after every change so a
// countdown survives a restart.
package lockout
