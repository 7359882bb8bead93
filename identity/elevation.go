package identity

import (
	"context"
	"fmt"
	"strings"

	"widesquare/apperr"
	"widesquare/notify"
)

// ErrRoleNotEligible signals an elevation or demotion the current role does not allow.
var ErrRoleNotEligible = apperr.Invalid("identity", "current role is not eligible for this change")

// Validate checks the application fields submitted with an agent request.
func (a AgentApplication) Validate() error {
	switch {
	case strings.TrimSpace(a.Phone) == "":
		return apperr.Invalid("identity", "phone is required")
	case strings.TrimSpace(a.LicenseNumber) == "":
		return apperr.Invalid("identity", "license number is required")
	case strings.TrimSpace(a.Agency) == "":
		return apperr.Invalid("identity", "agency is required")
	case strings.TrimSpace(a.Location) == "":
		return apperr.Invalid("identity", "location is required")
	case a.YearsOfExperience < 0 || a.YearsOfExperience > 80:
		return apperr.Invalid("identity", "years of experience must be between 0 and 80")
	case len(a.Bio) > 2000:
		return apperr.Invalid("identity", "bio must be at most 2000 characters")
	}
	return nil
}

func (a AgentApplication) trimmed() AgentApplication {
	return AgentApplication{
		Phone:             strings.TrimSpace(a.Phone),
		YearsOfExperience: a.YearsOfExperience,
		LicenseNumber:     strings.TrimSpace(a.LicenseNumber),
		Agency:            strings.TrimSpace(a.Agency),
		Bio:               strings.TrimSpace(a.Bio),
		Location:          strings.TrimSpace(a.Location),
	}
}

// RequestAgent files an agent-elevation request for a user or seller.
func (s *Service) RequestAgent(ctx context.Context, userID string, app AgentApplication) (User, error) {
	app = app.trimmed()
	if err := app.Validate(); err != nil {
		return User{}, err
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Role != RoleUser && user.Role != RoleSeller {
		return User{}, ErrRoleNotEligible
	}
	if user.AgentRequestPending {
		return User{}, ErrAlreadyPending
	}

	updated, err := s.repo.OpenAgentRequest(ctx, userID, app)
	if err != nil {
		return User{}, err
	}

	s.log.Info().Str("user_id", userID).Str("agency", app.Agency).Msg("agent request filed")
	s.notifyAdmins(ctx, "New agent application",
		fmt.Sprintf("%s <%s> applied to become an agent with %s (license %s, %d years, %s).",
			updated.Name, updated.Email, app.Agency, app.LicenseNumber, app.YearsOfExperience, app.Location))
	return updated, nil
}

// ResolveAgentRequest approves or rejects a pending agent request. Approval
// sets the role to agent; both outcomes clear the flag and the application.
func (s *Service) ResolveAgentRequest(ctx context.Context, userID string, approve bool) (User, error) {
	updated, err := s.repo.CloseAgentRequest(ctx, userID, approve)
	if err != nil {
		return User{}, err
	}

	s.log.Info().Str("user_id", userID).Bool("approved", approve).Msg("agent request resolved")
	if approve {
		s.notify(ctx, notify.Message{
			To:      []string{updated.Email},
			Subject: "Your agent application was approved",
			Body:    fmt.Sprintf("Hi %s, your account now has agent access.", updated.Name),
		})
	} else {
		s.notify(ctx, notify.Message{
			To:      []string{updated.Email},
			Subject: "Your agent application was not approved",
			Body:    fmt.Sprintf("Hi %s, your agent application was reviewed and not approved. You can apply again.", updated.Name),
		})
	}
	return updated, nil
}

// RequestSeller files a seller-elevation request. Only plain users can ask.
func (s *Service) RequestSeller(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Role != RoleUser {
		return User{}, ErrRoleNotEligible
	}
	if user.SellerRequestPending {
		return User{}, ErrAlreadyPending
	}

	updated, err := s.repo.OpenSellerRequest(ctx, userID)
	if err != nil {
		return User{}, err
	}

	s.log.Info().Str("user_id", userID).Msg("seller request filed")
	s.notifyAdmins(ctx, "New seller request", fmt.Sprintf("%s <%s> asked for seller access.", updated.Name, updated.Email))
	return updated, nil
}

// ResolveSellerRequest approves or rejects a pending seller request.
func (s *Service) ResolveSellerRequest(ctx context.Context, userID string, approve bool) (User, error) {
	updated, err := s.repo.CloseSellerRequest(ctx, userID, approve)
	if err != nil {
		return User{}, err
	}

	s.log.Info().Str("user_id", userID).Bool("approved", approve).Msg("seller request resolved")
	subject := "Your seller request was not approved"
	if approve {
		subject = "Your seller request was approved"
	}
	s.notify(ctx, notify.Message{To: []string{updated.Email}, Subject: subject, Body: subject + "."})
	return updated, nil
}

// PromoteToSeller turns a plain user into a seller. Any other role is left
// untouched, so repeated calls are harmless and roles are never lowered.
func (s *Service) PromoteToSeller(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.ChangeRole(ctx, userID, RoleUser, RoleSeller)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// DemoteAgent returns an agent to the user role. Demoting a user is a no-op;
// sellers and admins are not eligible.
func (s *Service) DemoteAgent(ctx context.Context, userID string) (User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	switch user.Role {
	case RoleUser:
		return user, nil
	case RoleAgent:
	default:
		return User{}, ErrRoleNotEligible
	}

	updated, err := s.repo.ChangeRole(ctx, userID, RoleAgent, RoleUser)
	if err != nil {
		return User{}, err
	}
	s.log.Info().Str("user_id", userID).Msg("agent demoted")
	return updated, nil
}

// ListPendingRequests returns users with an open agent or seller request.
func (s *Service) ListPendingRequests(ctx context.Context) ([]User, error) {
	return s.repo.ListPendingRequests(ctx)
}
