package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"widesquare/apperr"
	"widesquare/authz"
	"widesquare/identity"
	"widesquare/listing"
	"widesquare/notify"
)

func TestService_GuestSlotConflictAndRebooking(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	guest := authz.Principal{}

	first, err := env.svc.Schedule(ctx, guest, ScheduleRequest{
		ListingID: "L1", Date: "2024-06-01", TimeSlot: "10:00",
		Guest: &Guest{Name: "Gina", Email: "gina@example.com"},
	})
	if err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if first.Status != StatusPending || first.UserID != nil || first.Guest == nil {
		t.Fatalf("unexpected first booking %+v", first)
	}

	_, err = env.svc.Schedule(ctx, guest, ScheduleRequest{
		ListingID: "L1", Date: "2024-06-01", TimeSlot: "10:00",
		Guest: &Guest{Name: "Hal", Email: "hal@example.com"},
	})
	if !errors.Is(err, ErrSlotConflict) || !errors.Is(err, apperr.ErrSlotConflict) {
		t.Fatalf("second booking: expected slot conflict, got %v", err)
	}
	if env.repo.creates != 1 {
		t.Fatalf("expected no write for the conflicting booking, got %d creates", env.repo.creates)
	}

	if _, err := env.svc.Cancel(ctx, env.admin, first.ID, "owner called"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	third, err := env.svc.Schedule(ctx, guest, ScheduleRequest{
		ListingID: "L1", Date: "2024-06-01", TimeSlot: "10:00",
		Guest: &Guest{Name: "Ivy", Email: "ivy@example.com"},
	})
	if err != nil {
		t.Fatalf("third booking after cancel: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("expected a new appointment")
	}
	env.assertSlotsUnique(t)
}

func TestService_ScheduleNotifiesAdminsAndAgent(t *testing.T) {
	env := newTestEnv()
	agent := "agent-1"
	env.listings.items["L2"] = listing.Listing{ID: "L2", Title: "Dockside", Status: listing.StatusApproved, AssignedAgentID: &agent}
	env.users.users["agent-1"] = identity.User{ID: "agent-1", Email: "agent@example.com", Role: identity.RoleAgent}

	buyer := env.user("buyer-1")
	a, err := env.svc.Schedule(context.Background(), buyer, ScheduleRequest{ListingID: "L2", Date: "2024-07-01", TimeSlot: "14:30"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if a.UserID == nil || *a.UserID != "buyer-1" || a.Guest != nil {
		t.Fatalf("expected account-owned appointment, got %+v", a)
	}
	if len(env.notifier.adminCalls) != 1 || len(env.notifier.adminCalls[0]) != 1 || env.notifier.adminCalls[0][0] != "agent@example.com" {
		t.Fatalf("expected admins notified with the agent copied, got %v", env.notifier.adminCalls)
	}
	if got := env.notifier.recipients(); len(got) != 1 || got[0] != "buyer-1@example.com" {
		t.Fatalf("expected requester acknowledgement, got %v", got)
	}
}

func TestService_SignedInCallerWinsOverGuestBlock(t *testing.T) {
	env := newTestEnv()
	a, err := env.svc.Schedule(context.Background(), env.user("buyer-1"), ScheduleRequest{
		ListingID: "L1", Date: "2024-06-02", TimeSlot: "09:00",
		Guest: &Guest{Name: "Ignored", Email: "ignored@example.com"},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if a.Guest != nil || a.UserID == nil {
		t.Fatalf("expected guest block ignored, got %+v", a)
	}
}

func TestService_ScheduleValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	guest := &Guest{Name: "Gina", Email: "gina@example.com"}

	cases := map[string]ScheduleRequest{
		"bad date":      {ListingID: "L1", Date: "01/06/2024", TimeSlot: "10:00", Guest: guest},
		"bad slot":      {ListingID: "L1", Date: "2024-06-01", TimeSlot: "10am", Guest: guest},
		"short slot":    {ListingID: "L1", Date: "2024-06-01", TimeSlot: "9:00", Guest: guest},
		"no guest":      {ListingID: "L1", Date: "2024-06-01", TimeSlot: "10:00"},
		"no guest name": {ListingID: "L1", Date: "2024-06-01", TimeSlot: "10:00", Guest: &Guest{Email: "gina@example.com"}},
		"bad email":     {ListingID: "L1", Date: "2024-06-01", TimeSlot: "10:00", Guest: &Guest{Name: "Gina", Email: "gina"}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := env.svc.Schedule(ctx, authz.Principal{}, req); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	_, err := env.svc.Schedule(ctx, authz.Principal{}, ScheduleRequest{ListingID: "missing", Date: "2024-06-01", TimeSlot: "10:00", Guest: guest})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing listing: expected not found, got %v", err)
	}
}

func TestService_UnapprovedListingsAreNotBookable(t *testing.T) {
	env := newTestEnv()
	env.listings.items["P1"] = listing.Listing{ID: "P1", Title: "Pending Loft", Status: listing.StatusPending}
	env.listings.items["R1"] = listing.Listing{ID: "R1", Title: "Rejected Barn", Status: listing.StatusRejected}
	ctx := context.Background()
	guest := &Guest{Name: "Gina", Email: "gina@example.com"}

	for _, id := range []string{"P1", "R1"} {
		_, err := env.svc.Schedule(ctx, env.user("buyer-1"), ScheduleRequest{ListingID: id, Date: "2024-06-01", TimeSlot: "10:00"})
		if !errors.Is(err, listing.ErrNotFound) {
			t.Fatalf("schedule on %s: expected not found, got %v", id, err)
		}
		_, err = env.svc.Schedule(ctx, authz.Principal{}, ScheduleRequest{ListingID: id, Date: "2024-06-01", TimeSlot: "11:00", Guest: guest})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("guest schedule on %s: expected not found, got %v", id, err)
		}
		_, err = env.svc.Enquire(ctx, authz.Principal{}, EnquiryRequest{ListingID: id, Message: "Still available?", Guest: guest})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("enquiry on %s: expected not found, got %v", id, err)
		}
	}
	if env.repo.creates != 0 {
		t.Fatalf("expected no writes for unapproved listings, got %d creates", env.repo.creates)
	}
	if len(env.notifier.adminCalls) != 0 {
		t.Fatalf("expected no notifications, got %v", env.notifier.adminCalls)
	}

	if _, err := env.svc.Schedule(ctx, env.admin, ScheduleRequest{ListingID: "P1", Date: "2024-06-01", TimeSlot: "10:00"}); err != nil {
		t.Fatalf("admin schedule on pending listing: %v", err)
	}
}

func TestService_StorageConstraintCatchesRacingBooking(t *testing.T) {
	env := newTestEnv()
	// the pre-check misses the competing insert; the unique slot still holds
	env.repo.hideSlots = true
	ctx := context.Background()

	if _, err := env.svc.Schedule(ctx, env.user("u1"), ScheduleRequest{ListingID: "L1", Date: "2024-06-01", TimeSlot: "11:00"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := env.svc.Schedule(ctx, env.user("u2"), ScheduleRequest{ListingID: "L1", Date: "2024-06-01", TimeSlot: "11:00"})
	if !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected slot conflict from storage, got %v", err)
	}
	env.assertSlotsUnique(t)
}

func TestService_ConcurrentBookingsHoldOneSlot(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Schedule(ctx, env.user(fmt.Sprintf("racer-%d", i)), ScheduleRequest{ListingID: "L1", Date: "2024-08-01", TimeSlot: "16:00"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrSlotConflict) {
				t.Errorf("racer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful booking, got %d", succeeded)
	}
	env.assertSlotsUnique(t)
}

func TestService_Enquiry(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.svc.Enquire(ctx, authz.Principal{}, EnquiryRequest{ListingID: "L1", Guest: &Guest{Name: "Gina", Email: "gina@example.com"}}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty message: expected validation error, got %v", err)
	}

	booked, err := env.svc.Schedule(ctx, env.user("buyer-1"), ScheduleRequest{ListingID: "L1", Date: "2024-06-01", TimeSlot: "10:00"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	enq, err := env.svc.Enquire(ctx, authz.Principal{}, EnquiryRequest{
		ListingID: "L1", Message: "Is parking included?", Date: "2024-06-01", TimeSlot: "10:00",
		Guest: &Guest{Name: "Gina", Email: "gina@example.com"},
	})
	if err != nil {
		t.Fatalf("enquiry on a held slot: %v", err)
	}
	if enq.Status != StatusEnquiry || enq.Notes != "Is parking included?" {
		t.Fatalf("unexpected enquiry %+v", enq)
	}
	if booked.Status != StatusPending {
		t.Fatal("booking should be untouched")
	}
	if len(env.notifier.adminCalls) != 2 {
		t.Fatalf("expected admins notified for booking and enquiry, got %d", len(env.notifier.adminCalls))
	}

	if _, err := env.svc.UpdateStatus(ctx, env.admin, enq.ID, StatusConfirmed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirming an enquiry: expected invalid transition, got %v", err)
	}
	if _, err := env.svc.Cancel(ctx, env.admin, enq.ID, ""); err != nil {
		t.Fatalf("closing enquiry: %v", err)
	}
}

func TestService_CancelRules(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	owner := env.user("owner-1")

	a, err := env.svc.Schedule(ctx, owner, ScheduleRequest{ListingID: "L1", Date: "2024-06-03", TimeSlot: "12:00"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if _, err := env.svc.Cancel(ctx, env.user("stranger"), a.ID, ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("stranger: expected forbidden, got %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, owner, a.ID, "  changed plans ")
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled || cancelled.CancelReason != "changed plans" {
		t.Fatalf("unexpected cancelled appointment %+v", cancelled)
	}
	if got := env.notifier.lastSubject(); got != "Appointment cancelled" {
		t.Fatalf("expected cancellation notice, got %q", got)
	}

	again, err := env.svc.Cancel(ctx, owner, a.ID, "")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.CancelReason != "changed plans" {
		t.Fatal("expected idempotent cancel to keep the first reason")
	}

	done, err := env.svc.Schedule(ctx, owner, ScheduleRequest{ListingID: "L1", Date: "2024-06-04", TimeSlot: "12:00"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, env.admin, done.ID, StatusCompleted); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, env.admin, done.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelling completed: expected invalid transition, got %v", err)
	}

	if _, err := env.svc.Cancel(ctx, owner, "missing", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: expected not found, got %v", err)
	}
}

func TestService_StrictAndForcedStatus(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	owner := env.user("owner-1")

	a, _ := env.svc.Schedule(ctx, owner, ScheduleRequest{ListingID: "L1", Date: "2024-06-05", TimeSlot: "08:00"})

	if _, err := env.svc.UpdateStatus(ctx, owner, a.ID, StatusConfirmed); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("owner confirming: expected forbidden, got %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, env.admin, a.ID, "archived"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("unknown status: expected validation error, got %v", err)
	}

	confirmed, err := env.svc.UpdateStatus(ctx, env.admin, a.ID, StatusConfirmed)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}
	if _, err := env.svc.UpdateStatus(ctx, env.admin, a.ID, StatusConfirmed); err != nil {
		t.Fatalf("same state should be a no-op: %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, env.admin, a.ID, StatusPending); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirmed -> pending: expected invalid transition, got %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, env.admin, a.ID, "")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// someone else takes the freed slot; reviving the cancelled record must fail
	if _, err := env.svc.Schedule(ctx, env.user("other"), ScheduleRequest{ListingID: "L1", Date: "2024-06-05", TimeSlot: "08:00"}); err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if _, err := env.svc.ForceSetStatus(ctx, env.admin, cancelled.ID, StatusPending); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("forced revive into held slot: expected slot conflict, got %v", err)
	}

	free, _ := env.svc.Schedule(ctx, owner, ScheduleRequest{ListingID: "L1", Date: "2024-06-06", TimeSlot: "08:00"})
	_, _ = env.svc.Cancel(ctx, owner, free.ID, "")
	revived, err := env.svc.ForceSetStatus(ctx, env.admin, free.ID, StatusConfirmed)
	if err != nil {
		t.Fatalf("forced revive: %v", err)
	}
	if revived.Status != StatusConfirmed {
		t.Fatalf("expected confirmed after force, got %s", revived.Status)
	}
	env.assertSlotsUnique(t)
}

func TestService_Feedback(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	owner := env.user("owner-1")
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	env.svc.WithClock(func() time.Time { return now })

	a, _ := env.svc.Schedule(ctx, owner, ScheduleRequest{ListingID: "L1", Date: "2024-06-07", TimeSlot: "10:00"})

	if _, err := env.svc.AttachFeedback(ctx, env.user("stranger"), a.ID, 5, "great"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("stranger: expected forbidden, got %v", err)
	}
	if _, err := env.svc.AttachFeedback(ctx, env.admin, a.ID, 5, "great"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("admin: expected forbidden, got %v", err)
	}
	if _, err := env.svc.AttachFeedback(ctx, owner, a.ID, 6, "great"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("rating 6: expected validation error, got %v", err)
	}

	done, err := env.svc.AttachFeedback(ctx, owner, a.ID, 4, " lovely garden ")
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if done.Feedback == nil || done.Feedback.Rating != 4 || done.Feedback.Comment != "lovely garden" || !done.Feedback.SubmittedAt.Equal(now) {
		t.Fatalf("unexpected feedback %+v", done.Feedback)
	}

	if _, err := env.svc.AttachFeedback(ctx, owner, a.ID, 5, "again"); !errors.Is(err, ErrFeedbackExists) || !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("second feedback: expected ErrFeedbackExists, got %v", err)
	}
	if _, err := env.svc.ForceSetStatus(ctx, env.admin, a.ID, StatusPending); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("forcing reviewed appointment: expected validation error, got %v", err)
	}

	guestAppt, _ := env.svc.Schedule(ctx, authz.Principal{}, ScheduleRequest{
		ListingID: "L1", Date: "2024-06-08", TimeSlot: "10:00", Guest: &Guest{Name: "Gina", Email: "gina@example.com"},
	})
	if _, err := env.svc.AttachFeedback(ctx, owner, guestAppt.ID, 3, ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("guest appointment: expected forbidden, got %v", err)
	}

	cancelled, _ := env.svc.Schedule(ctx, owner, ScheduleRequest{ListingID: "L1", Date: "2024-06-09", TimeSlot: "10:00"})
	_, _ = env.svc.Cancel(ctx, owner, cancelled.ID, "")
	if _, err := env.svc.AttachFeedback(ctx, owner, cancelled.ID, 3, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelled appointment: expected invalid transition, got %v", err)
	}
}

func TestService_MeetingLink(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	owner := env.user("owner-1")
	a, _ := env.svc.Schedule(ctx, owner, ScheduleRequest{ListingID: "L1", Date: "2024-06-11", TimeSlot: "10:00"})

	if _, err := env.svc.UpdateMeetingLink(ctx, owner, a.ID, "https://meet.example.com/x", "Meet"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("owner: expected forbidden, got %v", err)
	}
	if _, err := env.svc.UpdateMeetingLink(ctx, env.admin, a.ID, "not a url", "Meet"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bad link: expected validation error, got %v", err)
	}

	updated, err := env.svc.UpdateMeetingLink(ctx, env.admin, a.ID, "https://meet.example.com/x", "Meet")
	if err != nil {
		t.Fatalf("update link: %v", err)
	}
	if updated.MeetingLink != "https://meet.example.com/x" || updated.Status != StatusPending {
		t.Fatalf("unexpected appointment %+v", updated)
	}
	if got := env.notifier.lastSubject(); got != "Meeting link for your appointment" {
		t.Fatalf("expected meeting notice, got %q", got)
	}
}

func TestService_ListScopesToViewer(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	_, _ = env.svc.Schedule(ctx, env.user("u1"), ScheduleRequest{ListingID: "L1", Date: "2024-06-12", TimeSlot: "10:00"})
	_, _ = env.svc.Schedule(ctx, env.user("u2"), ScheduleRequest{ListingID: "L1", Date: "2024-06-12", TimeSlot: "11:00"})

	if _, err := env.svc.List(ctx, Filters{}, authz.Principal{}); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("anonymous: expected unauthenticated, got %v", err)
	}

	mine, err := env.svc.List(ctx, Filters{UserID: "u2"}, env.user("u1"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if mine.Total != 1 || *mine.Items[0].UserID != "u1" {
		t.Fatalf("expected only u1's appointment, got %+v", mine)
	}

	all, err := env.svc.List(ctx, Filters{}, env.admin)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if all.Total != 2 {
		t.Fatalf("expected all appointments for admin, got %d", all.Total)
	}
}

type testEnv struct {
	svc      *Service
	repo     *fakeRepository
	listings *fakeListings
	users    *fakeUsers
	notifier *fakeNotifier
	admin    authz.Principal
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:     newFakeRepository(),
		listings: &fakeListings{items: map[string]listing.Listing{"L1": {ID: "L1", Title: "Lakeview Villa", Status: listing.StatusApproved}}},
		users:    &fakeUsers{users: map[string]identity.User{}},
		notifier: &fakeNotifier{},
		admin:    authz.Principal{UserID: "admin-1", Email: "admin@example.com", Role: identity.RoleAdmin},
	}
	var mu sync.Mutex
	seq := 0
	env.svc = NewService(env.repo, env.listings, env.users, env.notifier, zerolog.Nop()).
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("appt-%d", seq)
		})
	return env
}

func (e *testEnv) user(id string) authz.Principal {
	e.users.mu.Lock()
	e.users.users[id] = identity.User{ID: id, Email: id + "@example.com", Role: identity.RoleUser}
	e.users.mu.Unlock()
	return authz.Principal{UserID: id, Email: id + "@example.com", Role: identity.RoleUser}
}

func (e *testEnv) assertSlotsUnique(t *testing.T) {
	t.Helper()
	held := map[string]string{}
	for _, a := range e.repo.items {
		if !occupiesSlot(a.Status) {
			continue
		}
		key := a.ListingID + "|" + a.Date + "|" + a.TimeSlot
		if other, ok := held[key]; ok {
			t.Fatalf("slot %s held by both %s and %s", key, other, a.ID)
		}
		held[key] = a.ID
	}
}

// fakeRepository enforces the active-slot uniqueness the database index provides.
type fakeRepository struct {
	mu        sync.Mutex
	items     map[string]Appointment
	creates   int
	hideSlots bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{items: map[string]Appointment{}}
}

func (r *fakeRepository) slotHeld(except string, a Appointment) bool {
	if !occupiesSlot(a.Status) {
		return false
	}
	for _, other := range r.items {
		if other.ID != except && occupiesSlot(other.Status) &&
			other.ListingID == a.ListingID && other.Date == a.Date && other.TimeSlot == a.TimeSlot {
			return true
		}
	}
	return false
}

func (r *fakeRepository) Create(_ context.Context, a Appointment) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slotHeld(a.ID, a) {
		return Appointment{}, ErrSlotConflict
	}
	r.creates++
	r.items[a.ID] = a
	return a, nil
}

func (r *fakeRepository) GetByID(_ context.Context, id string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *fakeRepository) FindActiveInSlot(_ context.Context, listingID, date, timeSlot string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hideSlots {
		return Appointment{}, ErrNotFound
	}
	for _, a := range r.items {
		if occupiesSlot(a.Status) && a.ListingID == listingID && a.Date == date && a.TimeSlot == timeSlot {
			return a, nil
		}
	}
	return Appointment{}, ErrNotFound
}

func (r *fakeRepository) SetStatus(_ context.Context, id string, from, to Status, reason string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	if a.Status != from {
		return Appointment{}, ErrInvalidTransition
	}
	next := a
	next.Status = to
	next.CancelReason = ""
	if to == StatusCancelled {
		next.CancelReason = reason
	}
	if r.slotHeld(id, next) {
		return Appointment{}, ErrSlotConflict
	}
	r.items[id] = next
	return next, nil
}

func (r *fakeRepository) SetFeedback(_ context.Context, id string, fb Feedback) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	if a.Feedback != nil || !acceptsFeedback(a.Status) {
		return Appointment{}, ErrInvalidTransition
	}
	a.Status = StatusCompleted
	a.Feedback = &fb
	r.items[id] = a
	return a, nil
}

func (r *fakeRepository) SetMeeting(_ context.Context, id, link, platform string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	a.MeetingLink, a.MeetingPlatform = link, platform
	r.items[id] = a
	return a, nil
}

func (r *fakeRepository) List(_ context.Context, f Filters) ([]Appointment, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.items {
		if f.UserID != "" && (a.UserID == nil || *a.UserID != f.UserID) {
			continue
		}
		if f.ListingID != "" && a.ListingID != f.ListingID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type fakeListings struct {
	items map[string]listing.Listing
}

func (f *fakeListings) GetByID(_ context.Context, id string) (listing.Listing, error) {
	l, ok := f.items[id]
	if !ok {
		return listing.Listing{}, listing.ErrNotFound
	}
	return l, nil
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]identity.User
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return u, nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	messages   []notify.Message
	adminCalls [][]string
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Message) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return true
}

func (n *fakeNotifier) NotifyAdmins(_ context.Context, _, _ string, extra ...string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.adminCalls = append(n.adminCalls, extra)
	return true
}

func (n *fakeNotifier) recipients() []string {
	var out []string
	for _, m := range n.messages {
		out = append(out, m.To...)
	}
	return out
}

func (n *fakeNotifier) lastSubject() string {
	if len(n.messages) == 0 {
		return ""
	}
	return n.messages[len(n.messages)-1].Subject
}
