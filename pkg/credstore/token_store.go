package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// StoreOption customizes a store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger *zap.Logger
}

// WithLogger attaches a logger used to report unreadable entries.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(options *storeOptions) {
		if logger != nil {
			options.logger = logger
		}
	}
}

func resolveStoreOptions(options []StoreOption) storeOptions {
	resolved := storeOptions{logger: zap.NewNop()}
	for _, option := range options {
		option(&resolved)
	}
	return resolved
}

type accessTokenEntry struct {
	AccessToken string `json:"accessToken"`
	Exp         int64  `json:"exp,omitempty"`
}

type refreshTokenEntry struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenStore keeps explicit access and refresh tokens in a backend.
type TokenStore struct {
	profileCache
}

// NewTokenStore constructs a token-mode store.
func NewTokenStore(backend Backend, options ...StoreOption) *TokenStore {
	resolved := resolveStoreOptions(options)
	return &TokenStore{profileCache: profileCache{backend: backend, logger: resolved.logger}}
}

// Mode reports ModeToken.
func (store *TokenStore) Mode() Mode {
	return ModeToken
}

// Save replaces the stored credential in one atomic write.
func (store *TokenStore) Save(ctx context.Context, credential Credential) error {
	accessEncoded, accessErr := json.Marshal(accessTokenEntry{AccessToken: credential.AccessToken, Exp: credential.ExpiresUnix})
	if accessErr != nil {
		return fmt.Errorf("credstore.save: %w", accessErr)
	}
	refreshEncoded, refreshErr := json.Marshal(refreshTokenEntry{RefreshToken: credential.RefreshToken})
	if refreshErr != nil {
		return fmt.Errorf("credstore.save: %w", refreshErr)
	}
	if err := store.backend.SetMany(ctx, map[string][]byte{
		KeyAccessToken:  accessEncoded,
		KeyRefreshToken: refreshEncoded,
	}); err != nil {
		return fmt.Errorf("credstore.save: %w", err)
	}
	return nil
}

// Load returns the stored credential.
func (store *TokenStore) Load(ctx context.Context) (Credential, bool) {
	var access accessTokenEntry
	if !store.readEntry(ctx, KeyAccessToken, &access) {
		return Credential{}, false
	}
	if strings.TrimSpace(access.AccessToken) == "" {
		return Credential{}, false
	}
	var refresh refreshTokenEntry
	store.readEntry(ctx, KeyRefreshToken, &refresh)
	return Credential{
		AccessToken:  access.AccessToken,
		RefreshToken: refresh.RefreshToken,
		ExpiresUnix:  access.Exp,
	}, true
}

// Clear removes both tokens.
func (store *TokenStore) Clear(ctx context.Context) error {
	if err := store.backend.Delete(ctx, KeyAccessToken, KeyRefreshToken); err != nil {
		return fmt.Errorf("credstore.clear: %w", err)
	}
	return nil
}

// CookieStore is used when the server keeps the credential in an HTTP-only
// cookie. Credential operations are no-ops; only the profile is cached.
type CookieStore struct {
	profileCache
}

// NewCookieStore constructs a cookie-mode store.
func NewCookieStore(backend Backend, options ...StoreOption) *CookieStore {
	resolved := resolveStoreOptions(options)
	return &CookieStore{profileCache: profileCache{backend: backend, logger: resolved.logger}}
}

// Mode reports ModeCookie.
func (store *CookieStore) Mode() Mode {
	return ModeCookie
}

// Save does nothing: the server sets the cookie.
func (store *CookieStore) Save(ctx context.Context, credential Credential) error {
	return nil
}

// Load always reports absent: the cookie is not readable by the client.
func (store *CookieStore) Load(ctx context.Context) (Credential, bool) {
	return Credential{}, false
}

// Clear does nothing: the server clears the cookie on logout.
func (store *CookieStore) Clear(ctx context.Context) error {
	return nil
}

type profileCache struct {
	backend Backend
	logger  *zap.Logger
}

// SaveUser stores the encoded profile.
func (cache profileCache) SaveUser(ctx context.Context, encoded []byte) error {
	if !json.Valid(encoded) {
		return fmt.Errorf("credstore.save_user: invalid json")
	}
	if err := cache.backend.SetMany(ctx, map[string][]byte{KeyUserData: encoded}); err != nil {
		return fmt.Errorf("credstore.save_user: %w", err)
	}
	return nil
}

// LoadUser returns the encoded profile.
func (cache profileCache) LoadUser(ctx context.Context) ([]byte, bool) {
	var raw json.RawMessage
	if !cache.readEntry(ctx, KeyUserData, &raw) {
		return nil, false
	}
	if string(raw) == "null" {
		return nil, false
	}
	return raw, true
}

// ClearUser removes the cached profile.
func (cache profileCache) ClearUser(ctx context.Context) error {
	if err := cache.backend.Delete(ctx, KeyUserData); err != nil {
		return fmt.Errorf("credstore.clear_user: %w", err)
	}
	return nil
}

func (cache profileCache) readEntry(ctx context.Context, key string, target any) bool {
	encoded, err := cache.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			cache.logger.Warn("credential backend read failed",
				zap.String("code", "credstore.read_failed"),
				zap.String("key", key),
				zap.Error(err))
		}
		return false
	}
	if unmarshalErr := json.Unmarshal(encoded, target); unmarshalErr != nil {
		cache.logger.Warn("corrupt credential entry treated as absent",
			zap.String("code", "credstore.corrupt_entry"),
			zap.String("key", key),
			zap.Error(unmarshalErr))
		return false
	}
	return true
}
