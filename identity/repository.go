package identity

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
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = fmt.Errorf("identity: user %w", apperr.ErrNotFound)
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = fmt.Errorf("identity: email already exists: %w", apperr.ErrConflict)
	// ErrAlreadyPending signals a second elevation request of the same kind.
	ErrAlreadyPending = fmt.Errorf("identity: request %w", apperr.ErrAlreadyPending)
	// ErrNoPendingRequest signals a decision on a request that does not exist.
	ErrNoPendingRequest = fmt.Errorf("identity: no pending request: %w", apperr.ErrNotFound)
)

// Repository handles data access for identities.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByResetToken(ctx context.Context, tokenHash string) (User, error)
	ListPendingRequests(ctx context.Context) ([]User, error)

	// Conditional writes: each returns ErrUserNotFound when no user has the id
	// and the sentinel named in its comment when the precondition fails.

	// OpenAgentRequest stores app on a user with no pending agent request (ErrAlreadyPending).
	OpenAgentRequest(ctx context.Context, userID string, app AgentApplication) (User, error)
	// CloseAgentRequest clears the agent request, setting the role to agent when approve is true (ErrNoPendingRequest).
	CloseAgentRequest(ctx context.Context, userID string, approve bool) (User, error)
	// OpenSellerRequest flags a seller request (ErrAlreadyPending).
	OpenSellerRequest(ctx context.Context, userID string) (User, error)
	// CloseSellerRequest clears the seller request, setting the role to seller when approve is true (ErrNoPendingRequest).
	CloseSellerRequest(ctx context.Context, userID string, approve bool) (User, error)
	// ChangeRole sets role when the current role equals from and returns the
	// user unchanged otherwise.
	ChangeRole(ctx context.Context, userID string, from, to Role) (User, error)

	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	// ResetPassword replaces the password hash and clears the reset token.
	ResetPassword(ctx context.Context, userID, passwordHash string) error
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, name, password_hash, role, agent_request_pending, agent_application,
	seller_request_pending, reset_token_hash, reset_token_expires_at, created_at, updated_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	insertSQL := `
		INSERT INTO users (id, email, name, password_hash, role)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5)
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL, params.ID, params.Email, params.Name, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("identity: create user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by email address, case-insensitively.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, "get user by email", `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	if !validID(userID) {
		return User{}, ErrUserNotFound
	}
	return r.getOne(ctx, "get user by id", `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// GetUserByResetToken retrieves the user holding an unexpired reset token hash.
func (r *PGRepository) GetUserByResetToken(ctx context.Context, tokenHash string) (User, error) {
	return r.getOne(ctx, "get user by reset token", `
		SELECT `+userColumns+`
		FROM users
		WHERE reset_token_hash = $1 AND reset_token_expires_at > now()`, tokenHash)
}

// ListPendingRequests returns users with an open agent or seller request, oldest first.
func (r *PGRepository) ListPendingRequests(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE agent_request_pending OR seller_request_pending
		ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("identity: list pending: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("identity: scan pending: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: list pending: %w", err)
	}
	return users, nil
}

// OpenAgentRequest stores the application if no agent request is pending.
func (r *PGRepository) OpenAgentRequest(ctx context.Context, userID string, app AgentApplication) (User, error) {
	return r.conditional(ctx, "open agent request", ErrAlreadyPending, `
		UPDATE users
		SET agent_request_pending = TRUE, agent_application = $2, updated_at = now()
		WHERE id = $1 AND NOT agent_request_pending
		RETURNING `+userColumns, userID, app)
}

// CloseAgentRequest resolves a pending agent request.
func (r *PGRepository) CloseAgentRequest(ctx context.Context, userID string, approve bool) (User, error) {
	return r.conditional(ctx, "close agent request", ErrNoPendingRequest, `
		UPDATE users
		SET role = CASE WHEN $2 THEN 'agent' ELSE role END,
		    seller_request_pending = CASE WHEN $2 THEN FALSE ELSE seller_request_pending END,
		    agent_request_pending = FALSE,
		    agent_application = NULL,
		    updated_at = now()
		WHERE id = $1 AND agent_request_pending
		RETURNING `+userColumns, userID, approve)
}

// OpenSellerRequest flags a seller request if none is pending.
func (r *PGRepository) OpenSellerRequest(ctx context.Context, userID string) (User, error) {
	return r.conditional(ctx, "open seller request", ErrAlreadyPending, `
		UPDATE users
		SET seller_request_pending = TRUE, updated_at = now()
		WHERE id = $1 AND NOT seller_request_pending
		RETURNING `+userColumns, userID)
}

// CloseSellerRequest resolves a pending seller request.
func (r *PGRepository) CloseSellerRequest(ctx context.Context, userID string, approve bool) (User, error) {
	return r.conditional(ctx, "close seller request", ErrNoPendingRequest, `
		UPDATE users
		SET role = CASE WHEN $2 THEN 'seller' ELSE role END,
		    seller_request_pending = FALSE,
		    updated_at = now()
		WHERE id = $1 AND seller_request_pending
		RETURNING `+userColumns, userID, approve)
}

// ChangeRole moves a user from one role to another. A user not holding from is
// returned as is so callers can treat the change as idempotent.
func (r *PGRepository) ChangeRole(ctx context.Context, userID string, from, to Role) (User, error) {
	if !validID(userID) {
		return User{}, ErrUserNotFound
	}
	const updateSQL = `
		UPDATE users
		SET role = $3,
		    seller_request_pending = CASE WHEN $3 = 'user' THEN seller_request_pending ELSE FALSE END,
		    updated_at = now()
		WHERE id = $1 AND role = $2
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, userID, from, to))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("identity: change role: %w", err)
	}
	return r.GetUserByID(ctx, userID)
}

// SetResetToken stores a password-reset token hash with its expiry.
func (r *PGRepository) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	if !validID(userID) {
		return ErrUserNotFound
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET reset_token_hash = $2, reset_token_expires_at = $3, updated_at = now()
		WHERE id = $1`, userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("identity: set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ResetPassword replaces the password hash and clears the reset token.
func (r *PGRepository) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	if !validID(userID) {
		return ErrUserNotFound
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = now()
		WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("identity: reset password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PGRepository) getOne(ctx context.Context, op, query string, args ...any) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("identity: %s: %w", op, err)
	}
	return user, nil
}

// conditional runs an UPDATE guarded by a precondition. When no row matches it
// tells a missing user apart from a failed precondition with a follow-up read.
func (r *PGRepository) conditional(ctx context.Context, op string, failed error, query string, args ...any) (User, error) {
	if userID, _ := args[0].(string); !validID(userID) {
		return User{}, ErrUserNotFound
	}
	user, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return User{}, ErrRoleNotEligible
		}
		return User{}, fmt.Errorf("identity: %s: %w", op, err)
	}

	userID, _ := args[0].(string)
	if _, err := r.GetUserByID(ctx, userID); err != nil {
		return User{}, err
	}
	return User{}, failed
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Role,
		&user.AgentRequestPending,
		&user.AgentApplication,
		&user.SellerRequestPending,
		&user.ResetTokenHash,
		&user.ResetTokenExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// validID reports whether id can name a row. The id columns are UUIDs, so any
// other string cannot exist and must not reach the driver.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
