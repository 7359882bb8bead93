package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"widesquare/authz"
	"widesquare/booking"
	"widesquare/identity"
	"widesquare/listing"
	"widesquare/metrics"
	"widesquare/storage"
)

type identityService interface {
	Register(ctx context.Context, req identity.RegisterRequest) (*identity.User, error)
	Login(ctx context.Context, req identity.LoginRequest) (identity.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
	RequestAgent(ctx context.Context, userID string, app identity.AgentApplication) (identity.User, error)
	RequestSeller(ctx context.Context, userID string) (identity.User, error)
	ResolveAgentRequest(ctx context.Context, userID string, approve bool) (identity.User, error)
	ResolveSellerRequest(ctx context.Context, userID string, approve bool) (identity.User, error)
	DemoteAgent(ctx context.Context, userID string) (identity.User, error)
	ListPendingRequests(ctx context.Context) ([]identity.User, error)
}

type listingService interface {
	Create(ctx context.Context, actor authz.Principal, params listing.CreateParams) (listing.Listing, error)
	GetByID(ctx context.Context, id string, viewer authz.Principal) (listing.Listing, error)
	List(ctx context.Context, filters listing.Filters, viewer authz.Principal) (listing.ListResult, error)
	Update(ctx context.Context, actor authz.Principal, params listing.UpdateParams) (listing.Listing, error)
	Delete(ctx context.Context, actor authz.Principal, id string) error
	Approve(ctx context.Context, actor authz.Principal, id string) (listing.Listing, error)
	Reject(ctx context.Context, actor authz.Principal, id string) (listing.Listing, error)
	AssignAgent(ctx context.Context, actor authz.Principal, id string, agentID *string) (listing.Listing, error)
}

type bookingService interface {
	Schedule(ctx context.Context, actor authz.Principal, req booking.ScheduleRequest) (booking.Appointment, error)
	Enquire(ctx context.Context, actor authz.Principal, req booking.EnquiryRequest) (booking.Appointment, error)
	Cancel(ctx context.Context, actor authz.Principal, id, reason string) (booking.Appointment, error)
	UpdateStatus(ctx context.Context, actor authz.Principal, id string, next booking.Status) (booking.Appointment, error)
	ForceSetStatus(ctx context.Context, actor authz.Principal, id string, next booking.Status) (booking.Appointment, error)
	AttachFeedback(ctx context.Context, actor authz.Principal, id string, rating int, comment string) (booking.Appointment, error)
	UpdateMeetingLink(ctx context.Context, actor authz.Principal, id, link, platform string) (booking.Appointment, error)
	List(ctx context.Context, filters booking.Filters, viewer authz.Principal) (booking.ListResult, error)
}

type imageSource interface {
	Open(ctx context.Context, id string) (*storage.Download, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the collaborators the HTTP handlers call into.
type Server struct {
	identityService identityService
	listingService  listingService
	bookingService  bookingService
	images          imageSource
	gate            *authz.Gate
	db              pinger
	log             zerolog.Logger
}

// routes registers every endpoint. Access control is attached per route.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	public := func(h http.HandlerFunc) http.Handler { return h }
	optional := func(h http.HandlerFunc) http.Handler { return s.gate.Optional(writeError, h) }
	authed := func(h http.HandlerFunc) http.Handler { return s.gate.Authenticate(writeError, h) }
	admin := func(h http.HandlerFunc) http.Handler { return s.gate.Admin(writeError, h) }

	mux.Handle("GET /healthz", public(s.handleHealth))
	mux.Handle("GET /readyz", public(s.handleReady))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/auth/register", public(s.handleRegister))
	mux.Handle("POST /api/auth/login", public(s.handleLogin))
	mux.Handle("GET /api/auth/me", authed(s.handleMe))
	mux.Handle("POST /api/auth/forgot-password", public(s.handleForgotPassword))
	mux.Handle("POST /api/auth/reset-password", public(s.handleResetPassword))

	mux.Handle("POST /api/users/me/agent-request", authed(s.handleAgentRequest))
	mux.Handle("POST /api/users/me/seller-request", authed(s.handleSellerRequest))

	mux.Handle("GET /api/admin/requests", admin(s.handlePendingRequests))
	mux.Handle("POST /api/admin/users/{id}/agent-request/{decision}", admin(s.handleResolveAgentRequest))
	mux.Handle("POST /api/admin/users/{id}/seller-request/{decision}", admin(s.handleResolveSellerRequest))
	mux.Handle("POST /api/admin/users/{id}/demote", admin(s.handleDemoteAgent))

	mux.Handle("GET /api/listings", optional(s.handleListListings))
	mux.Handle("GET /api/listings/{id}", optional(s.handleGetListing))
	mux.Handle("POST /api/listings", authed(s.handleCreateListing))
	mux.Handle("PUT /api/listings/{id}", authed(s.handleUpdateListing))
	mux.Handle("DELETE /api/listings/{id}", authed(s.handleDeleteListing))
	mux.Handle("POST /api/admin/listings/{id}/approve", admin(s.handleApproveListing))
	mux.Handle("POST /api/admin/listings/{id}/reject", admin(s.handleRejectListing))
	mux.Handle("PUT /api/admin/listings/{id}/agent", admin(s.handleAssignAgent))

	mux.Handle("POST /api/appointments", optional(s.handleSchedule))
	mux.Handle("POST /api/appointments/enquiry", optional(s.handleEnquiry))
	mux.Handle("GET /api/appointments", authed(s.handleListAppointments))
	mux.Handle("POST /api/appointments/{id}/cancel", authed(s.handleCancelAppointment))
	mux.Handle("POST /api/appointments/{id}/feedback", authed(s.handleFeedback))
	mux.Handle("PUT /api/admin/appointments/{id}/status", admin(s.handleUpdateAppointmentStatus))
	mux.Handle("PUT /api/admin/appointments/{id}/status/force", admin(s.handleForceAppointmentStatus))
	mux.Handle("PUT /api/admin/appointments/{id}/meeting", admin(s.handleMeetingLink))

	mux.Handle("GET /api/images/{id}", public(s.handleImage))

	return mux
}

// handler wraps the routes in the middleware chain. Metrics sit directly
// around the mux so the matched pattern is visible to them.
func (s *Server) handler(corsOrigins []string) http.Handler {
	var h http.Handler = metrics.HTTPMiddleware(s.routes())
	h = cors(corsOrigins, h)
	h = recoverer(h)
	h = requestLogger(s.log, h)
	return otelhttp.NewHandler(h, "widesquare-api")
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, "database unavailable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, "ready", map[string]string{"status": "ready"})
}
