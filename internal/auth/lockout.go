package auth

import "time"

// LockoutPolicy is pure policy over the user record's failure counters.
// The store performs the increment-and-check as one atomic statement; the
// policy only supplies the threshold and deadline.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy locks for 15 minutes after 5 consecutive failures.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}
}

// Deadline returns the lock expiry for a lock applied now.
func (p LockoutPolicy) Deadline(now time.Time) time.Time {
	return now.Add(p.Duration)
}

// ShouldLock reports whether the post-increment failure count trips the lock.
func (p LockoutPolicy) ShouldLock(failures int) bool {
	return failures >= p.Threshold
}
