package booking

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"widesquare/apperr"
	"widesquare/authz"
	"widesquare/identity"
	"widesquare/listing"
	"widesquare/metrics"
	"widesquare/notify"
	"widesquare/tracing"
)

var (
	// ErrForbidden signals an action on someone else's appointment.
	ErrForbidden = fmt.Errorf("booking: %w", apperr.ErrForbidden)
	// ErrFeedbackExists signals a second feedback attempt.
	ErrFeedbackExists = fmt.Errorf("booking: feedback already submitted: %w", apperr.ErrForbidden)
)

var tracer = tracing.Tracer("booking")

// Listings resolves the listing an appointment refers to.
type Listings interface {
	GetByID(ctx context.Context, id string) (listing.Listing, error)
}

// Users resolves e-mail addresses for notifications.
type Users interface {
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
}

// Notifier is the slice of the notification dispatcher bookings need.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) bool
	NotifyAdmins(ctx context.Context, subject, body string, extra ...string) bool
}

// Service is the booking engine: viewing appointments and enquiries.
type Service struct {
	repo        Repository
	listings    Listings
	users       Users
	notifier    Notifier
	log         zerolog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository, listings Listings, users Users, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		listings:    listings,
		users:       users,
		notifier:    notifier,
		log:         log,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Schedule books a viewing slot for a signed-in caller or a guest. A held slot
// fails with ErrSlotConflict; the storage constraint closes the race between
// the check and the insert.
func (s *Service) Schedule(ctx context.Context, actor authz.Principal, req ScheduleRequest) (Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.Schedule")
	defer span.End()

	if err := validateSlot(req.Date, req.TimeSlot, true); err != nil {
		return Appointment{}, err
	}
	a := Appointment{
		ID:        s.idGenerator(),
		ListingID: strings.TrimSpace(req.ListingID),
		Date:      req.Date,
		TimeSlot:  req.TimeSlot,
		Status:    StatusPending,
		Notes:     strings.TrimSpace(req.Notes),
	}
	if err := s.assignRequester(&a, actor, req.Guest); err != nil {
		return Appointment{}, err
	}
	span.SetAttributes(
		attribute.String("listing.id", a.ListingID),
		attribute.String("appointment.slot", a.Date+" "+a.TimeSlot),
	)

	l, err := s.bookableListing(ctx, a.ListingID, actor)
	if err != nil {
		return Appointment{}, err
	}

	if _, err := s.repo.FindActiveInSlot(ctx, a.ListingID, a.Date, a.TimeSlot); err == nil {
		metrics.ObserveBooking("appointment", "conflict")
		return Appointment{}, ErrSlotConflict
	} else if !errors.Is(err, ErrNotFound) {
		return Appointment{}, err
	}

	created, err := s.repo.Create(ctx, a)
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			metrics.ObserveBooking("appointment", "conflict")
		} else {
			metrics.ObserveBooking("appointment", "failed")
		}
		return Appointment{}, err
	}

	metrics.ObserveBooking("appointment", "created")
	s.log.Info().
		Str("appointment_id", created.ID).
		Str("listing_id", created.ListingID).
		Str("date", created.Date).
		Str("time_slot", created.TimeSlot).
		Bool("guest", created.UserID == nil).
		Msg("viewing scheduled")

	s.notifyStaff(ctx, l, "New viewing request",
		fmt.Sprintf("A viewing of %q was requested for %s at %s by %s (appointment %s).",
			l.Title, created.Date, created.TimeSlot, s.requesterLabel(ctx, created), created.ID))
	s.notifyRequester(ctx, created, "Viewing request received",
		fmt.Sprintf("We received your request to view %q on %s at %s. We will confirm shortly.",
			l.Title, created.Date, created.TimeSlot))
	return created, nil
}

// Enquire records a question about a listing. Enquiries never hold a slot.
func (s *Service) Enquire(ctx context.Context, actor authz.Principal, req EnquiryRequest) (Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.Enquire")
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Appointment{}, apperr.Invalid("booking", "message is required")
	}
	if err := validateSlot(req.Date, req.TimeSlot, false); err != nil {
		return Appointment{}, err
	}
	a := Appointment{
		ID:        s.idGenerator(),
		ListingID: strings.TrimSpace(req.ListingID),
		Date:      req.Date,
		TimeSlot:  req.TimeSlot,
		Status:    StatusEnquiry,
		Notes:     message,
	}
	if err := s.assignRequester(&a, actor, req.Guest); err != nil {
		return Appointment{}, err
	}

	l, err := s.bookableListing(ctx, a.ListingID, actor)
	if err != nil {
		return Appointment{}, err
	}

	created, err := s.repo.Create(ctx, a)
	if err != nil {
		metrics.ObserveBooking("enquiry", "failed")
		return Appointment{}, err
	}

	metrics.ObserveBooking("enquiry", "created")
	s.log.Info().Str("appointment_id", created.ID).Str("listing_id", created.ListingID).Msg("enquiry received")

	s.notifyStaff(ctx, l, "New enquiry",
		fmt.Sprintf("%s asked about %q:\n\n%s", s.requesterLabel(ctx, created), l.Title, message))
	return created, nil
}

// bookableListing loads the listing a request targets. Listings that are not
// approved are reported as missing to everyone but privileged actors, the same
// answer a public read gives.
func (s *Service) bookableListing(ctx context.Context, id string, actor authz.Principal) (listing.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		return listing.Listing{}, err
	}
	if l.Status != listing.StatusApproved && !actor.IsPrivileged() {
		return listing.Listing{}, listing.ErrNotFound
	}
	return l, nil
}

// Cancel cancels an appointment on behalf of its owner or an administrator.
// Cancelling a cancelled appointment returns it unchanged.
func (s *Service) Cancel(ctx context.Context, actor authz.Principal, id, reason string) (Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if !s.ownsOrPrivileged(actor, a) {
		return Appointment{}, ErrForbidden
	}
	if a.Status == StatusCancelled {
		return a, nil
	}
	if !CanTransition(a.Status, StatusCancelled) {
		return Appointment{}, ErrInvalidTransition
	}

	cancelled, err := s.transition(ctx, a, StatusCancelled, strings.TrimSpace(reason), "cancel")
	if err != nil {
		return Appointment{}, err
	}

	body := fmt.Sprintf("Your appointment for %s at %s was cancelled.", cancelled.Date, cancelled.TimeSlot)
	if cancelled.CancelReason != "" {
		body += " Reason: " + cancelled.CancelReason
	}
	s.notifyRequester(ctx, cancelled, "Appointment cancelled", body)
	return cancelled, nil
}

// UpdateStatus moves an appointment along the strict transition path.
func (s *Service) UpdateStatus(ctx context.Context, actor authz.Principal, id string, next Status) (Appointment, error) {
	if err := authz.RequireAdmin(actor); err != nil {
		return Appointment{}, ErrForbidden
	}
	if !next.Valid() {
		return Appointment{}, apperr.Invalid("booking", "unknown status "+string(next))
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if a.Status == next {
		return a, nil
	}
	if !CanTransition(a.Status, next) {
		return Appointment{}, ErrInvalidTransition
	}

	updated, err := s.transition(ctx, a, next, "", "strict")
	if err != nil {
		return Appointment{}, err
	}
	s.notifyRequester(ctx, updated, "Appointment "+string(next),
		fmt.Sprintf("Your appointment for %s at %s is now %s.", updated.Date, updated.TimeSlot, next))
	return updated, nil
}

// ForceSetStatus overwrites the status without the transition table, for
// manual corrections. Reviving a record into an occupied slot still fails
// with ErrSlotConflict.
func (s *Service) ForceSetStatus(ctx context.Context, actor authz.Principal, id string, next Status) (Appointment, error) {
	if err := authz.RequireAdmin(actor); err != nil {
		return Appointment{}, ErrForbidden
	}
	if !next.Valid() {
		return Appointment{}, apperr.Invalid("booking", "unknown status "+string(next))
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if a.Status == next {
		return a, nil
	}
	if a.Feedback != nil && next != StatusCompleted {
		return Appointment{}, apperr.Invalid("booking", "appointments with feedback stay completed")
	}

	s.log.Warn().
		Str("appointment_id", id).
		Str("actor_id", actor.UserID).
		Str("from", string(a.Status)).
		Str("to", string(next)).
		Msg("appointment status forced")
	return s.transition(ctx, a, next, "", "force")
}

// AttachFeedback stores the owner's single review and completes the appointment.
func (s *Service) AttachFeedback(ctx context.Context, actor authz.Principal, id string, rating int, comment string) (Appointment, error) {
	if !actor.Authenticated() {
		return Appointment{}, authz.ErrUnauthenticated
	}
	if rating < 1 || rating > 5 {
		return Appointment{}, apperr.Invalid("booking", "rating must be between 1 and 5")
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if a.UserID == nil || !actor.Owns(*a.UserID) {
		return Appointment{}, ErrForbidden
	}
	if a.Feedback != nil {
		return Appointment{}, ErrFeedbackExists
	}
	if !acceptsFeedback(a.Status) {
		return Appointment{}, ErrInvalidTransition
	}

	updated, err := s.repo.SetFeedback(ctx, id, Feedback{
		Rating:      rating,
		Comment:     strings.TrimSpace(comment),
		SubmittedAt: s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// lost a race with another feedback or a cancellation
			if current, getErr := s.repo.GetByID(ctx, id); getErr == nil && current.Feedback != nil {
				return Appointment{}, ErrFeedbackExists
			}
		}
		return Appointment{}, err
	}

	metrics.ObserveAppointmentTransition(string(StatusCompleted), "feedback")
	s.log.Info().Str("appointment_id", id).Int("rating", rating).Msg("appointment feedback received")
	return updated, nil
}

// UpdateMeetingLink sets the online meeting link and tells the requester.
func (s *Service) UpdateMeetingLink(ctx context.Context, actor authz.Principal, id, link, platform string) (Appointment, error) {
	if err := authz.RequireAdmin(actor); err != nil {
		return Appointment{}, ErrForbidden
	}
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Appointment{}, apperr.Invalid("booking", "meeting link must be an http(s) URL")
	}

	updated, err := s.repo.SetMeeting(ctx, id, link, strings.TrimSpace(platform))
	if err != nil {
		return Appointment{}, err
	}

	s.log.Info().Str("appointment_id", id).Str("platform", updated.MeetingPlatform).Msg("meeting link updated")
	body := fmt.Sprintf("Join your appointment on %s at %s here: %s", updated.Date, updated.TimeSlot, updated.MeetingLink)
	if updated.MeetingPlatform != "" {
		body += " (" + updated.MeetingPlatform + ")"
	}
	s.notifyRequester(ctx, updated, "Meeting link for your appointment", body)
	return updated, nil
}

// List returns appointments. Administrators may filter freely; everyone else
// sees only their own.
func (s *Service) List(ctx context.Context, filters Filters, viewer authz.Principal) (ListResult, error) {
	if !viewer.Authenticated() {
		return ListResult{}, authz.ErrUnauthenticated
	}
	if !viewer.IsPrivileged() {
		filters.UserID = viewer.UserID
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return ListResult{}, apperr.Invalid("booking", "unknown status "+string(filters.Status))
	}

	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

func (s *Service) transition(ctx context.Context, a Appointment, next Status, reason, path string) (Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.String("appointment.id", a.ID),
		attribute.String("appointment.from", string(a.Status)),
		attribute.String("appointment.to", string(next)),
	)

	updated, err := s.repo.SetStatus(ctx, a.ID, a.Status, next, reason)
	if err != nil {
		return Appointment{}, err
	}
	metrics.ObserveAppointmentTransition(string(next), path)
	s.log.Info().
		Str("appointment_id", a.ID).
		Str("from", string(a.Status)).
		Str("to", string(next)).
		Str("path", path).
		Msg("appointment status changed")
	return updated, nil
}

// assignRequester sets the owner: the signed-in caller, or else a validated guest block.
func (s *Service) assignRequester(a *Appointment, actor authz.Principal, guest *Guest) error {
	if actor.Authenticated() {
		owner := actor.UserID
		a.UserID = &owner
		return nil
	}
	if guest == nil {
		return apperr.Invalid("booking", "guest name and email are required without an account")
	}
	g := Guest{
		Name:  strings.TrimSpace(guest.Name),
		Email: strings.ToLower(strings.TrimSpace(guest.Email)),
		Phone: strings.TrimSpace(guest.Phone),
	}
	if g.Name == "" {
		return apperr.Invalid("booking", "guest name is required")
	}
	if addr, err := mail.ParseAddress(g.Email); err != nil || addr.Address != g.Email {
		return apperr.Invalid("booking", "guest email is invalid")
	}
	a.Guest = &g
	return nil
}

func (s *Service) ownsOrPrivileged(actor authz.Principal, a Appointment) bool {
	if actor.IsPrivileged() {
		return true
	}
	return a.UserID != nil && actor.Owns(*a.UserID)
}

// validateSlot checks the YYYY-MM-DD date and HH:MM slot. Optional slots may
// be omitted entirely but not half given.
func validateSlot(date, slot string, required bool) error {
	if !required && date == "" && slot == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return apperr.Invalid("booking", "date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(slotLayout, slot); err != nil || len(slot) != len(slotLayout) {
		return apperr.Invalid("booking", "time slot must be HH:MM")
	}
	return nil
}

func (s *Service) requesterEmail(ctx context.Context, a Appointment) string {
	if a.Guest != nil {
		return a.Guest.Email
	}
	if a.UserID == nil || s.users == nil {
		return ""
	}
	u, err := s.users.GetUserByID(ctx, *a.UserID)
	if err != nil {
		s.log.Warn().Err(err).Str("appointment_id", a.ID).Msg("requester lookup for notification failed")
		return ""
	}
	return u.Email
}

func (s *Service) requesterLabel(ctx context.Context, a Appointment) string {
	if a.Guest != nil {
		return fmt.Sprintf("%s <%s> (guest)", a.Guest.Name, a.Guest.Email)
	}
	if email := s.requesterEmail(ctx, a); email != "" {
		return email
	}
	return "a registered user"
}

func (s *Service) notifyStaff(ctx context.Context, l listing.Listing, subject, body string) {
	if s.notifier == nil {
		return
	}
	var extra []string
	if l.AssignedAgentID != nil && s.users != nil {
		agent, err := s.users.GetUserByID(ctx, *l.AssignedAgentID)
		if err != nil {
			s.log.Warn().Err(err).Str("listing_id", l.ID).Msg("agent lookup for notification failed")
		} else {
			extra = append(extra, agent.Email)
		}
	}
	s.notifier.NotifyAdmins(ctx, subject, body, extra...)
}

func (s *Service) notifyRequester(ctx context.Context, a Appointment, subject, body string) {
	if s.notifier == nil {
		return
	}
	to := s.requesterEmail(ctx, a)
	if to == "" {
		return
	}
	s.notifier.Notify(ctx, notify.Message{To: []string{to}, Subject: subject, Body: body})
}
