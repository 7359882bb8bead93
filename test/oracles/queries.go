package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is consistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_live_booking_per_slot",
			SQL: `SELECT listing_id, date, time_slot, COUNT(*) FROM appointments
                  WHERE status NOT IN ('cancelled','enquiry')
                  GROUP BY listing_id, date, time_slot HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_slot_index_present",
			SQL: `SELECT 'missing_active_slot_index' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'appointments_active_slot_key')`,
		},
		{
			Name: "O3_single_requester",
			SQL: `SELECT id FROM appointments
                  WHERE status <> 'enquiry' AND (user_id IS NULL) = (guest_email IS NULL)`,
		},
		{
			Name: "O4_feedback_only_when_completed",
			SQL: `SELECT id, status FROM appointments
                  WHERE (feedback_rating IS NOT NULL AND status <> 'completed')
                     OR (feedback_rating IS NULL) <> (feedback_at IS NULL)`,
		},
		{
			Name: "O5_approval_consistent",
			SQL: `SELECT id, status, is_approved FROM listings
                  WHERE (status = 'approved') <> is_approved
                     OR (status = 'approved' AND approved_by IS NULL)
                     OR (status <> 'approved' AND approved_by IS NOT NULL)`,
		},
		{
			Name: "O6_plots_without_rooms",
			SQL:  `SELECT id FROM listings WHERE subtype = 'Plot' AND (beds IS NOT NULL OR baths IS NOT NULL)`,
		},
		{
			Name: "O7_cancel_reason_only_when_cancelled",
			SQL:  `SELECT id, status FROM appointments WHERE cancel_reason IS NOT NULL AND status <> 'cancelled'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
