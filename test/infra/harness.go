package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase is returned when neither a DSN, Docker nor a local Postgres
// is available.
var ErrNoDatabase = errors.New("infra: no database available")

// DSNEnv names the variable that points the harness at an existing database.
const DSNEnv = "STRESS_TEST_PG_DSN"

// Harness owns the database a stress run works against and the pool on it.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
	shared    bool
}

// NewHarness picks a database in order of preference: overrideDSN, the
// STRESS_TEST_PG_DSN variable, a Docker container, then a local server.
// Shared databases get an isolated schema.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	h := &Harness{container: &PGContainer{}}

	switch {
	case overrideDSN != "":
		h.dsn, h.shared = overrideDSN, true
	case os.Getenv(DSNEnv) != "":
		h.dsn, h.shared = os.Getenv(DSNEnv), true
	case dockerAvailable(ctx):
		c, dsn, err := StartPostgres(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
		h.container, h.dsn = c, dsn
	case isPostgresRunning():
		dsn, err := InitLocalDatabase(ctx)
		if err != nil {
			return nil, fmt.Errorf("init local database: %w", err)
		}
		h.dsn = dsn
	default:
		return nil, ErrNoDatabase
	}

	pool, teardown, err := ApplyMigrations(ctx, h.dsn, h.shared)
	if err != nil {
		_ = h.container.Terminate(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	h.pool, h.teardown = pool, teardown
	return h, nil
}

// Pool exposes the migrated pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Reset empties every table for a fresh epoch.
func (h *Harness) Reset(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, "TRUNCATE TABLE appointments, listings, users CASCADE"); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Close releases the pool, drops an isolated schema and stops a container.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var errs []error
	if h.teardown != nil {
		errs = append(errs, h.teardown(ctx))
	}
	errs = append(errs, h.container.Terminate(ctx))
	return errors.Join(errs...)
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
