package domain

import "time"

// LockState is the global interaction lock. Locked implies Reason and LockedAt
// are set; an unlocked state carries neither.
type LockState struct {
	Locked   bool      `json:"locked"`
	Reason   string    `json:"reason,omitempty"`
	LockedAt time.Time `json:"locked_at,omitzero"`
}

// Duration returns how long the lock has been held at now, and false when unlocked.
func (s LockState) Duration(now time.Time) (time.Duration, bool) {
	if !s.Locked {
		return 0, false
	}
	return now.Sub(s.LockedAt), true
}

// LockView is the read-only lock snapshot handed to the UI layer.
type LockView struct {
	Locked   bool          `json:"locked"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// View converts the state into the UI-facing snapshot at now.
func (s LockState) View(now time.Time) LockView {
	d, _ := s.Duration(now)
	return LockView{Locked: s.Locked, Reason: s.Reason, Duration: d}
}
