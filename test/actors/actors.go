// Package actors drives the booking and listing services concurrently
// against a real database. Actors never fail on domain rejections; they tally
// outcomes and leave correctness to the oracles.
package actors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"widesquare/apperr"
	"widesquare/authz"
	"widesquare/booking"
	"widesquare/identity"
	"widesquare/listing"
	"widesquare/storage"
)

// Tally counts actor outcomes.
type Tally struct {
	Scheduled  atomic.Int64
	Conflicts  atomic.Int64
	Cancelled  atomic.Int64
	Advanced   atomic.Int64
	Reviewed   atomic.Int64
	Submitted  atomic.Int64
	Moderated  atomic.Int64
	Rejections atomic.Int64
	Transient  atomic.Int64
}

func (t *Tally) String() string {
	return fmt.Sprintf("scheduled=%d conflicts=%d cancelled=%d advanced=%d reviewed=%d submitted=%d moderated=%d rejections=%d transient=%d",
		t.Scheduled.Load(), t.Conflicts.Load(), t.Cancelled.Load(), t.Advanced.Load(), t.Reviewed.Load(),
		t.Submitted.Load(), t.Moderated.Load(), t.Rejections.Load(), t.Transient.Load())
}

// record files err under the matching counter; ok is bumped on success.
func (t *Tally) record(err error, ok *atomic.Int64) {
	switch {
	case err == nil:
		ok.Add(1)
	case errors.Is(err, apperr.ErrSlotConflict):
		t.Conflicts.Add(1)
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrForbidden),
		errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
		t.Rejections.Add(1)
	default:
		// killed backends and timeouts
		t.Transient.Add(1)
	}
}

// World is the seeded population the actors pick from.
type World struct {
	Pool     *pgxpool.Pool
	Bookings *booking.Service
	Listings *listing.Service
	Admin    authz.Principal
	Users    []authz.Principal
	Targets  []string
	Dates    []string
	Slots    []string
	Tally    *Tally
}

func (w *World) user(rng *rand.Rand) authz.Principal {
	return w.Users[rng.Intn(len(w.Users))]
}

func pace(rng *rand.Rand) {
	time.Sleep(time.Duration(5+rng.Intn(15)) * time.Millisecond)
}

func done(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Booker requests viewings on a small grid of slots so that actors collide.
// One in four requests is made by a guest.
func Booker(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		req := booking.ScheduleRequest{
			ListingID: w.Targets[rng.Intn(len(w.Targets))],
			Date:      w.Dates[rng.Intn(len(w.Dates))],
			TimeSlot:  w.Slots[rng.Intn(len(w.Slots))],
		}
		actor := authz.Principal{}
		if rng.Intn(4) == 0 {
			n := rng.Int63()
			req.Guest = &booking.Guest{Name: fmt.Sprintf("Guest %d", n), Email: fmt.Sprintf("guest%d@example.com", n)}
		} else {
			actor = w.user(rng)
		}
		_, err := w.Bookings.Schedule(ctx, actor, req)
		w.Tally.record(err, &w.Tally.Scheduled)
		pace(rng)
	}
	return nil
}

// Canceller frees random live slots, either as the owner or as an admin.
func Canceller(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		id, owner, err := pick(ctx, w.Pool, `status IN ('pending','confirmed')`)
		if err == nil {
			actor := w.Admin
			if owner != nil && rng.Intn(2) == 0 {
				actor = authz.Principal{UserID: *owner, Role: identity.RoleUser}
			}
			_, err = w.Bookings.Cancel(ctx, actor, id, "stress cancel")
			w.Tally.record(err, &w.Tally.Cancelled)
		}
		pace(rng)
	}
	return nil
}

// Advancer moves appointments forward, and now and then forces a cancelled
// one back to pending to contend for its old slot.
func Advancer(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		if rng.Intn(5) == 0 {
			if id, _, err := pick(ctx, w.Pool, `status = 'cancelled'`); err == nil {
				_, err = w.Bookings.ForceSetStatus(ctx, w.Admin, id, booking.StatusPending)
				w.Tally.record(err, &w.Tally.Advanced)
			}
		} else if id, _, err := pick(ctx, w.Pool, `status IN ('pending','confirmed')`); err == nil {
			next := booking.StatusConfirmed
			if rng.Intn(3) == 0 {
				next = booking.StatusCompleted
			}
			_, err = w.Bookings.UpdateStatus(ctx, w.Admin, id, next)
			w.Tally.record(err, &w.Tally.Advanced)
		}
		pace(rng)
	}
	return nil
}

// Reviewer leaves feedback on signed-in users' appointments, racing both
// itself and cancellations.
func Reviewer(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		id, owner, err := pick(ctx, w.Pool, `user_id IS NOT NULL AND status IN ('pending','confirmed','completed')`)
		if err == nil && owner != nil {
			actor := authz.Principal{UserID: *owner, Role: identity.RoleUser}
			_, err = w.Bookings.AttachFeedback(ctx, actor, id, 1+rng.Intn(5), "stress feedback")
			w.Tally.record(err, &w.Tally.Reviewed)
		}
		pace(rng)
	}
	return nil
}

// Submitter files new listings as ordinary users.
func Submitter(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	subtypes := []string{"Apartment", "Villa", listing.SubtypePlot}
	for !done(ctx, stop) {
		beds := 1 + rng.Intn(4)
		n := rng.Int63()
		_, err := w.Listings.Create(ctx, w.user(rng), listing.CreateParams{
			Details: listing.Details{
				Title:        fmt.Sprintf("Stress home %d", n),
				Location:     "Stress City",
				Price:        float64(1000 + rng.Intn(100000)),
				Beds:         &beds,
				Subtype:      subtypes[rng.Intn(len(subtypes))],
				Availability: listing.AvailabilityBuy,
			},
			Images: []listing.Image{{URL: fmt.Sprintf("https://cdn.example.com/%d", n), StorageID: fmt.Sprint(n)}},
		})
		w.Tally.record(err, &w.Tally.Submitted)
		pace(rng)
	}
	return nil
}

// Moderator approves or rejects pending listings. Two moderators deciding the
// same listing must leave exactly one decision behind.
func Moderator(ctx context.Context, w *World, rng *rand.Rand, stop <-chan struct{}) error {
	for !done(ctx, stop) {
		var id string
		err := w.Pool.QueryRow(ctx, `SELECT id::text FROM listings WHERE status = 'pending' ORDER BY random() LIMIT 1`).Scan(&id)
		if err == nil {
			if rng.Intn(2) == 0 {
				_, err = w.Listings.Approve(ctx, w.Admin, id)
			} else {
				_, err = w.Listings.Reject(ctx, w.Admin, id)
			}
			w.Tally.record(err, &w.Tally.Moderated)
		}
		pace(rng)
	}
	return nil
}

func pick(ctx context.Context, pool *pgxpool.Pool, where string) (string, *string, error) {
	var (
		id    string
		owner *string
	)
	err := pool.QueryRow(ctx,
		`SELECT id::text, user_id::text FROM appointments WHERE `+where+` ORDER BY random() LIMIT 1`).Scan(&id, &owner)
	return id, owner, err
}

// DiscardImages satisfies listing.ImageStore for actors that only submit
// image references.
type DiscardImages struct{}

func (DiscardImages) Upload(_ context.Context, r io.Reader, _, filename string) (storage.Object, error) {
	_, _ = io.Copy(io.Discard, r)
	return storage.Object{URL: "https://cdn.example.com/" + filename, ID: filename}, nil
}

func (DiscardImages) Delete(context.Context, string) error { return nil }
