package devapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const minimumPasswordLength = 8

// InMemoryUsers is a bcrypt-backed account store for local runs and tests.
type InMemoryUsers struct {
	mutex      sync.RWMutex
	byID       map[string]*userRecord
	byUsername map[string]string
	cost       int
}

type userRecord struct {
	profile      UserProfile
	passwordHash []byte
}

// NewInMemoryUsers constructs an empty store hashing with the given bcrypt
// cost; zero selects bcrypt.DefaultCost.
func NewInMemoryUsers(cost int) *InMemoryUsers {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &InMemoryUsers{
		byID:       make(map[string]*userRecord),
		byUsername: make(map[string]string),
		cost:       cost,
	}
}

// ValidRole reports whether role names one of the account roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return true
	default:
		return false
	}
}

// Create registers a new account. An empty role defaults to student.
func (store *InMemoryUsers) Create(ctx context.Context, registration Registration) (UserProfile, error) {
	username := strings.ToLower(strings.TrimSpace(registration.Username))
	if username == "" || strings.ContainsAny(username, " \t:/") {
		return UserProfile{}, ErrInvalidUsername
	}
	role := strings.ToLower(strings.TrimSpace(registration.Role))
	if role == "" {
		role = RoleStudent
	}
	if !ValidRole(role) {
		return UserProfile{}, fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	if len(registration.Password) < minimumPasswordLength {
		return UserProfile{}, ErrWeakPassword
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(registration.Password), store.cost)
	if hashErr != nil {
		return UserProfile{}, fmt.Errorf("users.hash: %w", hashErr)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.byUsername[username]; exists {
		return UserProfile{}, ErrUserExists
	}
	profile := UserProfile{
		ID:       uuid.NewString(),
		Username: username,
		FullName: strings.TrimSpace(registration.FullName),
		Email:    strings.TrimSpace(registration.Email),
		Role:     role,
	}
	store.byID[profile.ID] = &userRecord{profile: profile, passwordHash: passwordHash}
	store.byUsername[username] = profile.ID
	return profile, nil
}

// Authenticate verifies a username and password pair.
func (store *InMemoryUsers) Authenticate(ctx context.Context, username string, password string) (UserProfile, error) {
	store.mutex.RLock()
	userID, ok := store.byUsername[strings.ToLower(strings.TrimSpace(username))]
	var record userRecord
	if ok {
		record = *store.byID[userID]
	}
	store.mutex.RUnlock()
	if !ok {
		return UserProfile{}, ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(record.passwordHash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return UserProfile{}, ErrWrongPassword
		}
		return UserProfile{}, fmt.Errorf("users.compare: %w", err)
	}
	return record.profile, nil
}

// Profile returns an account by id.
func (store *InMemoryUsers) Profile(ctx context.Context, userID string) (UserProfile, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	record, ok := store.byID[userID]
	if !ok {
		return UserProfile{}, ErrUserNotFound
	}
	return record.profile, nil
}

// UpdateProfile applies the non-nil fields of changes.
func (store *InMemoryUsers) UpdateProfile(ctx context.Context, userID string, changes ProfileChanges) (UserProfile, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, ok := store.byID[userID]
	if !ok {
		return UserProfile{}, ErrUserNotFound
	}
	if changes.FullName != nil {
		record.profile.FullName = strings.TrimSpace(*changes.FullName)
	}
	if changes.Email != nil {
		record.profile.Email = strings.TrimSpace(*changes.Email)
	}
	return record.profile, nil
}

// ChangePassword replaces the password after verifying the current one.
func (store *InMemoryUsers) ChangePassword(ctx context.Context, userID string, currentPassword string, newPassword string) error {
	if len(newPassword) < minimumPasswordLength {
		return ErrWeakPassword
	}
	store.mutex.RLock()
	record, ok := store.byID[userID]
	var existingHash []byte
	if ok {
		existingHash = record.passwordHash
	}
	store.mutex.RUnlock()
	if !ok {
		return ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword(existingHash, []byte(currentPassword)); err != nil {
		return ErrWrongPassword
	}
	replacement, hashErr := bcrypt.GenerateFromPassword([]byte(newPassword), store.cost)
	if hashErr != nil {
		return fmt.Errorf("users.hash: %w", hashErr)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.byID[userID].passwordHash = replacement
	return nil
}
