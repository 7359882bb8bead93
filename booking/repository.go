package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"widesquare/apperr"
)

var (
	// ErrNotFound signals that the appointment does not exist or is not visible to the caller.
	ErrNotFound = fmt.Errorf("booking: appointment %w", apperr.ErrNotFound)
	// ErrSlotConflict signals that the (listing, date, time) slot is already held.
	ErrSlotConflict = fmt.Errorf("booking: %w", apperr.ErrSlotConflict)
	// ErrInvalidTransition signals a status change the appointment's current state does not allow.
	ErrInvalidTransition = fmt.Errorf("booking: status transition not allowed: %w", apperr.ErrConflict)
)

const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

// Repository persists appointments. Status writes are conditional on the
// status the caller observed.
type Repository interface {
	Create(ctx context.Context, a Appointment) (Appointment, error)
	GetByID(ctx context.Context, id string) (Appointment, error)
	// FindActiveInSlot returns the appointment holding the slot or ErrNotFound.
	FindActiveInSlot(ctx context.Context, listingID, date, timeSlot string) (Appointment, error)
	SetStatus(ctx context.Context, id string, from, to Status, cancelReason string) (Appointment, error)
	SetFeedback(ctx context.Context, id string, fb Feedback) (Appointment, error)
	SetMeeting(ctx context.Context, id, link, platform string) (Appointment, error)
	List(ctx context.Context, filters Filters) ([]Appointment, int, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const appointmentColumns = `id, listing_id, user_id, guest_name, guest_email, guest_phone,
	COALESCE(date::text, ''), COALESCE(time_slot, ''), status, COALESCE(meeting_link, ''),
	COALESCE(meeting_platform, ''), notes, COALESCE(cancel_reason, ''), feedback_rating,
	feedback_comment, feedback_at, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, a Appointment) (Appointment, error) {
	query := `
		INSERT INTO appointments (id, listing_id, user_id, guest_name, guest_email, guest_phone,
			date, time_slot, status, notes)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6,
			NULLIF($7, '')::date, NULLIF($8, ''), $9, $10)
		RETURNING ` + appointmentColumns

	var guestName, guestEmail, guestPhone *string
	if a.Guest != nil {
		guestName, guestEmail = &a.Guest.Name, &a.Guest.Email
		if a.Guest.Phone != "" {
			guestPhone = &a.Guest.Phone
		}
	}

	created, err := scanAppointment(r.pool.QueryRow(ctx, query,
		a.ID,
		a.ListingID,
		a.UserID,
		guestName,
		guestEmail,
		guestPhone,
		a.Date,
		a.TimeSlot,
		a.Status,
		a.Notes,
	))
	if err != nil {
		return Appointment{}, classify("create", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Appointment, error) {
	if !validID(id) {
		return Appointment{}, ErrNotFound
	}
	a, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, fmt.Errorf("booking: get: %w", err)
	}
	return a, nil
}

func (r *PGRepository) FindActiveInSlot(ctx context.Context, listingID, date, timeSlot string) (Appointment, error) {
	if !validID(listingID) {
		return Appointment{}, ErrNotFound
	}
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE listing_id = $1 AND date = $2::date AND time_slot = $3
		  AND status NOT IN ('cancelled', 'enquiry')
		LIMIT 1`

	a, err := scanAppointment(r.pool.QueryRow(ctx, query, listingID, date, timeSlot))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, fmt.Errorf("booking: find slot: %w", err)
	}
	return a, nil
}

// SetStatus moves id from one status to another. Only cancelled records keep
// a cancel reason.
func (r *PGRepository) SetStatus(ctx context.Context, id string, from, to Status, cancelReason string) (Appointment, error) {
	query := `
		UPDATE appointments
		SET status = $3,
		    cancel_reason = CASE WHEN $3 = 'cancelled' THEN NULLIF($4, '') END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + appointmentColumns

	return r.conditional(ctx, "set status", query, id, from, to, cancelReason)
}

func (r *PGRepository) SetFeedback(ctx context.Context, id string, fb Feedback) (Appointment, error) {
	query := `
		UPDATE appointments
		SET status = 'completed', feedback_rating = $2, feedback_comment = $3, feedback_at = $4,
		    updated_at = now()
		WHERE id = $1 AND feedback_rating IS NULL AND status IN ('pending', 'confirmed', 'completed')
		RETURNING ` + appointmentColumns

	return r.conditional(ctx, "set feedback", query, id, fb.Rating, fb.Comment, fb.SubmittedAt)
}

func (r *PGRepository) SetMeeting(ctx context.Context, id, link, platform string) (Appointment, error) {
	if !validID(id) {
		return Appointment{}, ErrNotFound
	}
	query := `
		UPDATE appointments
		SET meeting_link = $2, meeting_platform = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
		RETURNING ` + appointmentColumns

	a, err := scanAppointment(r.pool.QueryRow(ctx, query, id, link, platform))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, fmt.Errorf("booking: set meeting: %w", err)
	}
	return a, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Appointment, int, error) {
	filters = withListDefaults(filters)

	where := "WHERE ($1 = '' OR listing_id::text = $1) AND ($2 = '' OR user_id::text = $2) AND ($3 = '' OR status = $3)"
	args := []any{filters.ListingID, filters.UserID, string(filters.Status)}

	query := fmt.Sprintf(`SELECT %s FROM appointments %s ORDER BY created_at DESC, id LIMIT %d OFFSET %d`,
		appointmentColumns, where, filters.PageSize, (filters.Page-1)*filters.PageSize)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("booking: query list: %w", err)
	}
	defer rows.Close()

	list := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("booking: scan list: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("booking: query list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM appointments "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("booking: count list: %w", err)
	}
	return list, total, nil
}

// conditional runs a guarded UPDATE. When no row matches it tells a missing
// appointment apart from one whose state no longer allows the change.
func (r *PGRepository) conditional(ctx context.Context, op, query string, args ...any) (Appointment, error) {
	if id, _ := args[0].(string); !validID(id) {
		return Appointment{}, ErrNotFound
	}
	a, err := scanAppointment(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, classify(op, err)
	}

	id, _ := args[0].(string)
	if _, err := r.GetByID(ctx, id); err != nil {
		return Appointment{}, err
	}
	return Appointment{}, ErrInvalidTransition
}

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return ErrSlotConflict
		case codeCheckViolation:
			return apperr.Invalid("booking", pgErr.ConstraintName+" violated")
		}
	}
	return fmt.Errorf("booking: %s: %w", op, err)
}

func scanAppointment(row pgx.Row) (Appointment, error) {
	var a Appointment
	var guestName, guestEmail, guestPhone, fbComment *string
	var fbRating *int
	var fbAt *time.Time
	err := row.Scan(
		&a.ID,
		&a.ListingID,
		&a.UserID,
		&guestName,
		&guestEmail,
		&guestPhone,
		&a.Date,
		&a.TimeSlot,
		&a.Status,
		&a.MeetingLink,
		&a.MeetingPlatform,
		&a.Notes,
		&a.CancelReason,
		&fbRating,
		&fbComment,
		&fbAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Appointment{}, err
	}

	if guestEmail != nil {
		a.Guest = &Guest{Email: *guestEmail}
		if guestName != nil {
			a.Guest.Name = *guestName
		}
		if guestPhone != nil {
			a.Guest.Phone = *guestPhone
		}
	}
	if fbRating != nil {
		a.Feedback = &Feedback{Rating: *fbRating}
		if fbComment != nil {
			a.Feedback.Comment = *fbComment
		}
		if fbAt != nil {
			a.Feedback.SubmittedAt = *fbAt
		}
	}
	return a, nil
}

func withListDefaults(f Filters) Filters {
	if f.Page <= 0 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = 20
	case f.PageSize > 100:
		f.PageSize = 100
	}
	return f
}

// validID reports whether id can name a row. Appointment and listing ids are
// UUIDs, so any other string cannot exist and must not reach the driver.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
