package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"widesquare/apperr"
)

var (
	// ErrNotFound signals that the listing does not exist or is not visible to the caller.
	ErrNotFound = fmt.Errorf("listing: %w", apperr.ErrNotFound)
	// ErrNotPending signals a moderation decision on a listing that was already decided.
	ErrNotPending = fmt.Errorf("listing: only pending listings can be approved or rejected: %w", apperr.ErrConflict)
)

// Repository persists listings.
type Repository interface {
	Create(ctx context.Context, l Listing) (Listing, error)
	GetByID(ctx context.Context, id string) (Listing, error)
	// Save writes the descriptive fields and images; moderation columns are untouched.
	Save(ctx context.Context, l Listing) (Listing, error)
	// Decide moves a pending listing to approved or rejected (ErrNotPending otherwise).
	Decide(ctx context.Context, id string, status Status, approvedBy *string) (Listing, error)
	AssignAgent(ctx context.Context, id string, agentID *string) (Listing, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filters Filters) ([]Listing, int, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const listingColumns = `id, title, location, price, images, beds, baths, sqft, subtype, availability,
	description, amenities, phone, seller_id, assigned_agent_id, is_approved, status, approved_by,
	created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, l Listing) (Listing, error) {
	query := `
		INSERT INTO listings (id, title, location, price, images, beds, baths, sqft, subtype, availability,
			description, amenities, phone, seller_id, assigned_agent_id, is_approved, status, approved_by)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + listingColumns

	row := r.pool.QueryRow(ctx, query,
		l.ID,
		l.Title,
		l.Location,
		l.Price,
		l.Images,
		l.Beds,
		l.Baths,
		l.Sqft,
		l.Subtype,
		l.Availability,
		l.Description,
		l.Amenities,
		l.Phone,
		l.SellerID,
		l.AssignedAgentID,
		l.IsApproved,
		l.Status,
		l.ApprovedBy,
	)

	created, err := scanListing(row)
	if err != nil {
		return Listing{}, fmt.Errorf("listing: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Listing, error) {
	if !validID(id) {
		return Listing{}, ErrNotFound
	}
	l, err := scanListing(r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get: %w", err)
	}
	return l, nil
}

func (r *PGRepository) Save(ctx context.Context, l Listing) (Listing, error) {
	if !validID(l.ID) {
		return Listing{}, ErrNotFound
	}
	query := `
		UPDATE listings
		SET title = $2, location = $3, price = $4, images = $5, beds = $6, baths = $7, sqft = $8,
		    subtype = $9, availability = $10, description = $11, amenities = $12, phone = $13,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + listingColumns

	saved, err := scanListing(r.pool.QueryRow(ctx, query,
		l.ID,
		l.Title,
		l.Location,
		l.Price,
		l.Images,
		l.Beds,
		l.Baths,
		l.Sqft,
		l.Subtype,
		l.Availability,
		l.Description,
		l.Amenities,
		l.Phone,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: save: %w", err)
	}
	return saved, nil
}

func (r *PGRepository) Decide(ctx context.Context, id string, status Status, approvedBy *string) (Listing, error) {
	if !validID(id) {
		return Listing{}, ErrNotFound
	}
	query := `
		UPDATE listings
		SET status = $2, is_approved = ($2 = 'approved'), approved_by = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + listingColumns

	l, err := scanListing(r.pool.QueryRow(ctx, query, id, status, approvedBy))
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, fmt.Errorf("listing: decide: %w", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return Listing{}, err
	}
	return Listing{}, ErrNotPending
}

func (r *PGRepository) AssignAgent(ctx context.Context, id string, agentID *string) (Listing, error) {
	if !validID(id) {
		return Listing{}, ErrNotFound
	}
	query := `
		UPDATE listings
		SET assigned_agent_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + listingColumns

	l, err := scanListing(r.pool.QueryRow(ctx, query, id, agentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: assign agent: %w", err)
	}
	return l, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("listing: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Listing, int, error) {
	filters = withListDefaults(filters)
	// A non-UUID owner filter matches nothing.
	if (filters.SellerID != "" && !validID(filters.SellerID)) || (filters.AgentID != "" && !validID(filters.AgentID)) {
		return []Listing{}, 0, nil
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Availability != "" {
		where = append(where, fmt.Sprintf("availability=$%d", len(args)+1))
		args = append(args, filters.Availability)
	}
	if filters.Subtype != "" {
		where = append(where, fmt.Sprintf("subtype=$%d", len(args)+1))
		args = append(args, filters.Subtype)
	}
	if filters.Location != "" {
		where = append(where, fmt.Sprintf("location ILIKE $%d", len(args)+1))
		args = append(args, "%"+escapeLike(filters.Location)+"%")
	}
	if filters.MinPrice != nil {
		where = append(where, fmt.Sprintf("price >= $%d", len(args)+1))
		args = append(args, *filters.MinPrice)
	}
	if filters.MaxPrice != nil {
		where = append(where, fmt.Sprintf("price <= $%d", len(args)+1))
		args = append(args, *filters.MaxPrice)
	}
	if filters.SellerID != "" {
		where = append(where, fmt.Sprintf("seller_id=$%d", len(args)+1))
		args = append(args, filters.SellerID)
	}
	if filters.AgentID != "" {
		where = append(where, fmt.Sprintf("assigned_agent_id=$%d", len(args)+1))
		args = append(args, filters.AgentID)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM listings%s ORDER BY %s %s, id LIMIT %d OFFSET %d`,
		listingColumns, whereClause, mapSortKey(filters.SortKey), sortOrder(filters.SortOrder), limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing: query list: %w", err)
	}
	defer rows.Close()

	list := []Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("listing: scan list: %w", err)
		}
		list = append(list, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing: query list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listing: count list: %w", err)
	}

	return list, total, nil
}

func scanListing(row pgx.Row) (Listing, error) {
	var l Listing
	err := row.Scan(
		&l.ID,
		&l.Title,
		&l.Location,
		&l.Price,
		&l.Images,
		&l.Beds,
		&l.Baths,
		&l.Sqft,
		&l.Subtype,
		&l.Availability,
		&l.Description,
		&l.Amenities,
		&l.Phone,
		&l.SellerID,
		&l.AssignedAgentID,
		&l.IsApproved,
		&l.Status,
		&l.ApprovedBy,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
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

// validID reports whether id can name a row. Listing ids are UUIDs, so any
// other string cannot exist and must not reach the driver.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func mapSortKey(key string) string {
	switch key {
	case "price":
		return "price"
	case "sqft":
		return "sqft"
	case "title":
		return "title"
	case "updatedAt":
		return "updated_at"
	default:
		return "created_at"
	}
}

func sortOrder(order string) string {
	if strings.EqualFold(order, "asc") {
		return "ASC"
	}
	return "DESC"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
