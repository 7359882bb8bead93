package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"widesquare/apperr"
	"widesquare/notify"
)

// ErrInvalidResetToken signals an unknown or expired password-reset token.
var ErrInvalidResetToken = apperr.Invalid("identity", "reset token is invalid or expired")

// RequestPasswordReset issues a reset token for the account with email and
// mails it in the background. Unknown addresses succeed silently and the mail
// is not awaited, so neither the answer nor its latency reveals whether an
// address is registered. The returned token is empty for unknown addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil
		}
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("identity: generate reset token: %w", err)
	}
	token := hex.EncodeToString(raw)

	expiresAt := s.now().Add(s.resetTTL)
	if err := s.repo.SetResetToken(ctx, user.ID, hashToken(token), expiresAt); err != nil {
		return "", err
	}

	s.log.Info().Str("user_id", user.ID).Time("expires_at", expiresAt).Msg("password reset requested")
	s.notifyInBackground(ctx, notify.Message{
		To:      []string{user.Email},
		Subject: "Reset your password",
		Body:    fmt.Sprintf("Use this code to reset your password: %s\nIt expires at %s.", token, expiresAt.UTC().Format("2006-01-02 15:04 MST")),
	})
	return token, nil
}

// ResetPassword sets a new password for the holder of an unexpired token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return ErrInvalidResetToken
	}
	if len(newPassword) < 8 {
		return ErrWeakPassword
	}

	user, err := s.repo.GetUserByResetToken(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if user.ResetTokenExpiresAt == nil || !s.now().Before(*user.ResetTokenExpiresAt) {
		return ErrInvalidResetToken
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}
	if err := s.repo.ResetPassword(ctx, user.ID, string(passwordHash)); err != nil {
		return err
	}

	s.log.Info().Str("user_id", user.ID).Msg("password reset")
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
