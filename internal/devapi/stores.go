package devapi

import "context"

// Account roles. Each portal login variant admits exactly one of them.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// UserProfile is the public view of an account.
type UserProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// Registration describes a new account.
type Registration struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

// ProfileChanges carries the editable profile fields; nil leaves a field as is.
type ProfileChanges struct {
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
}

// UserStore persists accounts and verifies passwords.
type UserStore interface {
	Create(ctx context.Context, registration Registration) (UserProfile, error)
	Authenticate(ctx context.Context, username string, password string) (UserProfile, error)
	Profile(ctx context.Context, userID string) (UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, changes ProfileChanges) (UserProfile, error)
	ChangePassword(ctx context.Context, userID string, currentPassword string, newPassword string) error
}

// RefreshTokenStore manages long-lived refresh tokens.
type RefreshTokenStore interface {
	Issue(ctx context.Context, applicationUserID string, expiresUnix int64, previousTokenID string) (tokenID string, tokenOpaque string, err error)
	Validate(ctx context.Context, tokenOpaque string) (applicationUserID string, tokenID string, expiresUnix int64, err error)
	Revoke(ctx context.Context, tokenID string) error
}
