package devapi

import (
	"strings"
	"sync"
	"time"
)

// LoginLockout locks a username after repeated failed logins within a window.
type LoginLockout struct {
	mutex     sync.Mutex
	entries   map[string]*lockoutEntry
	threshold int
	window    time.Duration
	now       func() time.Time
}

type lockoutEntry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// NewLoginLockout returns a tracker; a threshold of zero disables locking.
func NewLoginLockout(threshold int, window time.Duration) *LoginLockout {
	return &LoginLockout{
		entries:   make(map[string]*lockoutEntry),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Locked reports whether username is currently locked out.
func (lockout *LoginLockout) Locked(username string) bool {
	if lockout == nil || lockout.threshold <= 0 {
		return false
	}
	lockout.mutex.Lock()
	defer lockout.mutex.Unlock()
	lockout.purgeExpiredLocked()
	entry, ok := lockout.entries[lockoutKey(username)]
	return ok && lockout.now().Before(entry.lockedUntil)
}

// RecordFailure counts a failed attempt and reports whether it locked the account.
func (lockout *LoginLockout) RecordFailure(username string) bool {
	if lockout == nil || lockout.threshold <= 0 {
		return false
	}
	lockout.mutex.Lock()
	defer lockout.mutex.Unlock()
	now := lockout.now()
	key := lockoutKey(username)
	entry, ok := lockout.entries[key]
	if !ok || now.Sub(entry.windowStart) > lockout.window {
		entry = &lockoutEntry{windowStart: now}
		lockout.entries[key] = entry
	}
	entry.failures++
	if entry.failures >= lockout.threshold {
		entry.lockedUntil = now.Add(lockout.window)
		return true
	}
	return false
}

// Reset forgets the failures of username after a successful login.
func (lockout *LoginLockout) Reset(username string) {
	if lockout == nil {
		return
	}
	lockout.mutex.Lock()
	defer lockout.mutex.Unlock()
	delete(lockout.entries, lockoutKey(username))
}

func (lockout *LoginLockout) purgeExpiredLocked() {
	now := lockout.now()
	for key, entry := range lockout.entries {
		if now.Sub(entry.windowStart) > lockout.window && !now.Before(entry.lockedUntil) {
			delete(lockout.entries, key)
		}
	}
}

func lockoutKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
