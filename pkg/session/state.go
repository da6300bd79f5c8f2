// Package session holds the in-memory record of who is signed in.
//
// The cached profile is for display only. Whether the user is authenticated
// is decided by AuthVerified, which is set once this process has confirmed
// the credential with the server.
package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tyemirov/authsession/pkg/credstore"
	"go.uber.org/zap"
)

// User is the profile returned by the current user endpoint.
type User map[string]any

// String returns a string field of the profile.
func (user User) String(field string) string {
	value, _ := user[field].(string)
	return value
}

// Snapshot is a consistent copy of the state.
type Snapshot struct {
	User         User
	AuthVerified bool
}

// IsAuthenticated reports whether the snapshot has a verified user.
func (snapshot Snapshot) IsAuthenticated() bool {
	return snapshot.AuthVerified && snapshot.User != nil
}

// State is safe for concurrent use.
type State struct {
	mutex        sync.RWMutex
	user         User
	authVerified bool
	cache        credstore.ProfileCache
	logger       *zap.Logger
}

// NewState hydrates the cached profile optimistically. The state starts
// unverified regardless of what the cache holds.
func NewState(ctx context.Context, cache credstore.ProfileCache, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	state := &State{cache: cache, logger: logger}
	if cache == nil {
		return state
	}
	encoded, ok := cache.LoadUser(ctx)
	if !ok {
		return state
	}
	var cached User
	if err := json.Unmarshal(encoded, &cached); err != nil {
		logger.Warn("cached user profile unreadable",
			zap.String("code", "session.cache.corrupt"),
			zap.Error(err))
		return state
	}
	state.user = cached
	return state
}

// User returns the cached profile, or nil.
func (state *State) User() User {
	state.mutex.RLock()
	defer state.mutex.RUnlock()
	return state.user
}

// AuthVerified reports whether this process confirmed the session with the server.
func (state *State) AuthVerified() bool {
	state.mutex.RLock()
	defer state.mutex.RUnlock()
	return state.authVerified
}

// IsAuthenticated is true iff the session is verified and a user is cached.
func (state *State) IsAuthenticated() bool {
	return state.Snapshot().IsAuthenticated()
}

// Snapshot returns user and flag read under one lock.
func (state *State) Snapshot() Snapshot {
	state.mutex.RLock()
	defer state.mutex.RUnlock()
	return Snapshot{User: state.user, AuthVerified: state.authVerified}
}

// SetUser records a server-confirmed profile. A nil user resets the state.
func (state *State) SetUser(ctx context.Context, user User) {
	if user == nil {
		state.Reset(ctx)
		return
	}
	state.mutex.Lock()
	state.user = user
	state.authVerified = true
	state.mutex.Unlock()

	if state.cache == nil {
		return
	}
	encoded, err := json.Marshal(user)
	if err != nil {
		state.logger.Warn("user profile not cacheable",
			zap.String("code", "session.cache.encode"),
			zap.Error(err))
		return
	}
	if saveErr := state.cache.SaveUser(ctx, encoded); saveErr != nil {
		state.logger.Warn("user profile cache write failed",
			zap.String("code", "session.cache.write"),
			zap.Error(saveErr))
	}
}

// Reset drops the profile and the verification flag.
func (state *State) Reset(ctx context.Context) {
	state.mutex.Lock()
	state.user = nil
	state.authVerified = false
	state.mutex.Unlock()

	if state.cache == nil {
		return
	}
	if err := state.cache.ClearUser(ctx); err != nil {
		state.logger.Warn("user profile cache clear failed",
			zap.String("code", "session.cache.clear"),
			zap.Error(err))
	}
}
