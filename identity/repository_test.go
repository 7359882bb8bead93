package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPGRepository_NonUUIDIDsAreNotFound(t *testing.T) {
	// A nil pool panics if any of these reach the driver.
	repo := NewRepository(nil)
	ctx := context.Background()

	if _, err := repo.GetUserByID(ctx, "user-1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("get: expected ErrUserNotFound, got %v", err)
	}
	if _, err := repo.OpenSellerRequest(ctx, "user-1"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("open seller request: expected ErrUserNotFound, got %v", err)
	}
	if _, err := repo.CloseAgentRequest(ctx, "user-1", true); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("close agent request: expected ErrUserNotFound, got %v", err)
	}
	if _, err := repo.ChangeRole(ctx, "user-1", RoleAgent, RoleUser); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("change role: expected ErrUserNotFound, got %v", err)
	}
	if err := repo.SetResetToken(ctx, "user-1", "hash", time.Now()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("set reset token: expected ErrUserNotFound, got %v", err)
	}
	if err := repo.ResetPassword(ctx, "user-1", "hash"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("reset password: expected ErrUserNotFound, got %v", err)
	}
}
