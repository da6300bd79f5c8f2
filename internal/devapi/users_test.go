package devapi

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestInMemoryUsersLifecycle(t *testing.T) {
	ctx := context.Background()
	users := NewInMemoryUsers(bcrypt.MinCost)

	created, err := users.Create(ctx, Registration{Username: " Carol ", Password: "long-enough", FullName: "Carol", Email: "carol@example.edu"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Username != "carol" || created.Role != RoleStudent {
		t.Fatalf("unexpected profile %+v", created)
	}

	authenticated, err := users.Authenticate(ctx, "CAROL", "long-enough")
	if err != nil || authenticated.ID != created.ID {
		t.Fatalf("authenticate: %+v %v", authenticated, err)
	}
	if _, err := users.Authenticate(ctx, "carol", "wrong-password"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected wrong password, got %v", err)
	}
	if _, err := users.Authenticate(ctx, "nobody", "long-enough"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	email := "carol@school.example.edu"
	updated, err := users.UpdateProfile(ctx, created.ID, ProfileChanges{Email: &email})
	if err != nil || updated.Email != email || updated.FullName != "Carol" {
		t.Fatalf("update: %+v %v", updated, err)
	}

	if err := users.ChangePassword(ctx, created.ID, "long-enough", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := users.ChangePassword(ctx, created.ID, "wrong-password", "another-long-one"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected wrong password, got %v", err)
	}
	if err := users.ChangePassword(ctx, created.ID, "long-enough", "another-long-one"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := users.Authenticate(ctx, "carol", "another-long-one"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
}

func TestInMemoryUsersCreateValidation(t *testing.T) {
	users := NewInMemoryUsers(bcrypt.MinCost)
	if _, err := users.Create(context.Background(), Registration{Username: "dan", Password: "long-enough"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	testCases := []struct {
		name         string
		registration Registration
		expected     error
	}{
		{name: "duplicate", registration: Registration{Username: "DAN", Password: "long-enough"}, expected: ErrUserExists},
		{name: "empty username", registration: Registration{Username: " ", Password: "long-enough"}, expected: ErrInvalidUsername},
		{name: "username with colon", registration: Registration{Username: "a:b", Password: "long-enough"}, expected: ErrInvalidUsername},
		{name: "unknown role", registration: Registration{Username: "eve", Password: "long-enough", Role: "parent"}, expected: ErrInvalidRole},
		{name: "weak password", registration: Registration{Username: "eve", Password: "short"}, expected: ErrWeakPassword},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := users.Create(context.Background(), testCase.registration); !errors.Is(err, testCase.expected) {
				t.Fatalf("expected %v, got %v", testCase.expected, err)
			}
		})
	}
}
