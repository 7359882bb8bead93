package main

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"widesquare/authz"
	"widesquare/identity"
)

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.identityService.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "User created successfully", toUserResponse(*user, s.isAdmin(*user)))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.identityService.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Login successful", loginResponse{
		Token: res.Token,
		User:  toUserResponse(res.User, s.isAdmin(res.User)),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.FromContext(r.Context())
	user, err := s.identityService.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "OK", toUserResponse(user, p.IsPrivileged()))
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.identityService.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	// same answer for known and unknown addresses
	writeJSON(w, http.StatusOK, "If the address is registered, a reset link has been sent", nil)
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.identityService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "Password updated", nil)
}

func (s *Server) handleAgentRequest(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.FromContext(r.Context())
	var app identity.AgentApplication
	if err := decodeJSON(w, r, &app); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.identityService.RequestAgent(r.Context(), p.UserID, app)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, "Agent request submitted", toUserResponse(user, p.IsPrivileged()))
}

func (s *Server) handleSellerRequest(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.FromContext(r.Context())
	user, err := s.identityService.RequestSeller(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, "Seller request submitted", toUserResponse(user, p.IsPrivileged()))
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	users, err := s.identityService.ListPendingRequests(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := mapSlice(users, func(u identity.User) userResponse { return toUserResponse(u, s.isAdmin(u)) })
	writeJSON(w, http.StatusOK, "OK", listPayload[userResponse]{Items: items, Total: len(items)})
}

func (s *Server) handleResolveAgentRequest(w http.ResponseWriter, r *http.Request) {
	s.resolveRequest(w, r, "agent", s.identityService.ResolveAgentRequest)
}

func (s *Server) handleResolveSellerRequest(w http.ResponseWriter, r *http.Request) {
	s.resolveRequest(w, r, "seller", s.identityService.ResolveSellerRequest)
}

func (s *Server) resolveRequest(w http.ResponseWriter, r *http.Request, kind string, resolve func(ctx context.Context, userID string, approve bool) (identity.User, error)) {
	var approve bool
	switch r.PathValue("decision") {
	case "approve":
		approve = true
	case "reject":
	default:
		writeBadRequest(w, "decision must be approve or reject")
		return
	}

	p, _ := authz.FromContext(r.Context())
	user, err := resolve(r.Context(), r.PathValue("id"), approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().
		Str("user_id", user.ID).
		Str("actor_id", p.UserID).
		Str("kind", kind).
		Bool("approved", approve).
		Msg("elevation request resolved")
	writeJSON(w, http.StatusOK, "Request resolved", toUserResponse(user, s.isAdmin(user)))
}

func (s *Server) handleDemoteAgent(w http.ResponseWriter, r *http.Request) {
	user, err := s.identityService.DemoteAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "User demoted", toUserResponse(user, s.isAdmin(user)))
}

func (s *Server) isAdmin(u identity.User) bool {
	if s.gate == nil {
		return u.Role == identity.RoleAdmin
	}
	return s.gate.PrincipalFor(u).IsPrivileged()
}
