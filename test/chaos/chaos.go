package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Terminations counts backends killed by TerminateRandomBackend.
var Terminations atomic.Int64

// TerminateRandomBackend kills one random backend of the current database
// with probability 1/odds on every tick, until ctx ends or stop closes.
// The pool transparently replaces the lost connection.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, rng *rand.Rand, every time.Duration, odds int, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if odds > 0 && rng.Intn(odds) != 0 {
				continue
			}
			var killed bool
			err := pool.QueryRow(ctx, `SELECT COALESCE(bool_or(pg_terminate_backend(pid)), false) FROM (
                SELECT pid FROM pg_stat_activity
                WHERE datname = current_database() AND pid <> pg_backend_pid() AND backend_type = 'client backend'
                ORDER BY random() LIMIT 1) victim`).Scan(&killed)
			if err == nil && killed {
				Terminations.Add(1)
			}
		}
	}
}
