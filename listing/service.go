package listing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"widesquare/apperr"
	"widesquare/authz"
	"widesquare/identity"
	"widesquare/metrics"
	"widesquare/notify"
	"widesquare/storage"
	"widesquare/tracing"
)

var (
	// ErrForbidden signals a mutation by someone other than the owner or an administrator.
	ErrForbidden = fmt.Errorf("listing: %w", apperr.ErrForbidden)
	// ErrImageUpload signals that a submitted image could not be stored.
	ErrImageUpload = fmt.Errorf("listing: image upload: %w", apperr.ErrStorage)
	// ErrNotAnAgent signals an assignment to an identity that does not hold the agent role.
	ErrNotAnAgent = apperr.Invalid("listing", "assignee must hold the agent role")
)

const imageFolder = "listings"

var tracer = tracing.Tracer("listing")

// Users is the slice of the identity store the lifecycle needs.
type Users interface {
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
	PromoteToSeller(ctx context.Context, userID string) (identity.User, error)
}

// ImageStore is the object storage boundary.
type ImageStore interface {
	Upload(ctx context.Context, r io.Reader, folder, filename string) (storage.Object, error)
	Delete(ctx context.Context, id string) error
}

// Notifier is the slice of the notification dispatcher listings need.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) bool
	NotifyAdmins(ctx context.Context, subject, body string, extra ...string) bool
}

// Service owns the listing lifecycle: submission, moderation, agent
// assignment, edits and deletion.
type Service struct {
	repo        Repository
	users       Users
	images      ImageStore
	notifier    Notifier
	log         zerolog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository, users Users, images ImageStore, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		users:       users,
		images:      images,
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

// Create submits a listing. Privileged submitters publish immediately;
// everyone else lands in pending, and a plain user becomes a seller.
func (s *Service) Create(ctx context.Context, actor authz.Principal, params CreateParams) (Listing, error) {
	ctx, span := tracer.Start(ctx, "listing.Create")
	defer span.End()

	if !actor.Authenticated() {
		return Listing{}, authz.ErrUnauthenticated
	}

	details := params.Details
	details.normalize()
	if err := details.validate(); err != nil {
		return Listing{}, err
	}
	if len(params.Images)+len(params.Uploads) == 0 {
		return Listing{}, invalid("at least one image is required")
	}
	if len(params.Images) > 0 {
		if err := validateImages(params.Images); err != nil {
			return Listing{}, err
		}
	}

	uploaded, err := s.store(ctx, params.Uploads)
	if err != nil {
		return Listing{}, err
	}

	l := Listing{
		ID:       s.idGenerator(),
		SellerID: actor.UserID,
		Images:   append(append([]Image{}, params.Images...), uploaded...),
		Status:   StatusPending,
	}
	l.apply(details)

	privileged := actor.IsPrivileged()
	if privileged {
		approver := actor.UserID
		l.Status = StatusApproved
		l.IsApproved = true
		l.ApprovedBy = &approver
	}

	created, err := s.repo.Create(ctx, l)
	if err != nil {
		s.cleanup(ctx, "", uploaded)
		return Listing{}, err
	}

	span.SetAttributes(attribute.String("listing.id", created.ID), attribute.String("listing.status", string(created.Status)))
	metrics.ObserveListingSubmitted(string(created.Status))
	s.log.Info().
		Str("listing_id", created.ID).
		Str("seller_id", created.SellerID).
		Str("status", string(created.Status)).
		Msg("listing submitted")

	if privileged {
		return created, nil
	}

	if actor.Role == identity.RoleUser {
		if _, err := s.users.PromoteToSeller(ctx, actor.UserID); err != nil {
			s.log.Error().Err(err).Str("user_id", actor.UserID).Msg("promote submitter to seller failed")
		}
	}

	s.notifyAdmins(ctx, "New listing awaiting review",
		fmt.Sprintf("%q in %s was submitted by %s and is waiting for approval (listing %s).",
			created.Title, created.Location, actor.Email, created.ID))
	return created, nil
}

// GetByID returns a listing visible to viewer. Unapproved listings are only
// visible to their seller, their agent and administrators.
func (s *Service) GetByID(ctx context.Context, id string, viewer authz.Principal) (Listing, error) {
	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if !canView(l, viewer) {
		return Listing{}, ErrNotFound
	}
	return l, nil
}

// List returns one page of listings. Outside administrators only approved
// listings are returned unless viewers ask for their own (as seller or agent).
func (s *Service) List(ctx context.Context, filters Filters, viewer authz.Principal) (ListResult, error) {
	if !viewer.IsPrivileged() {
		own := viewer.Authenticated() && (filters.SellerID == viewer.UserID || filters.AgentID == viewer.UserID)
		if !own {
			filters.Status = StatusApproved
		}
	}

	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Update edits a listing's details and images. Moderation state is kept.
func (s *Service) Update(ctx context.Context, actor authz.Principal, params UpdateParams) (Listing, error) {
	ctx, span := tracer.Start(ctx, "listing.Update")
	defer span.End()

	current, err := s.repo.GetByID(ctx, params.ID)
	if err != nil {
		return Listing{}, err
	}
	if err := authz.RequireOwnerOrAdmin(actor, current.SellerID); err != nil {
		return Listing{}, ErrForbidden
	}

	details := params.merge(current.details())
	details.normalize()
	if err := details.validate(); err != nil {
		return Listing{}, err
	}

	kept := current.Images
	if params.Images != nil {
		kept = retain(current.Images, *params.Images)
	}
	if len(kept)+len(params.Uploads) == 0 {
		return Listing{}, invalid("at least one image is required")
	}

	uploaded, err := s.store(ctx, params.Uploads)
	if err != nil {
		return Listing{}, err
	}

	next := current
	next.apply(details)
	next.Images = append(append([]Image{}, kept...), uploaded...)

	saved, err := s.repo.Save(ctx, next)
	if err != nil {
		s.cleanup(ctx, current.ID, uploaded)
		return Listing{}, err
	}

	s.cleanup(ctx, current.ID, removed(current.Images, kept))
	s.log.Info().Str("listing_id", saved.ID).Str("actor_id", actor.UserID).Msg("listing updated")
	return saved, nil
}

// Delete removes a listing and then, best effort, its stored images.
func (s *Service) Delete(ctx context.Context, actor authz.Principal, id string) error {
	ctx, span := tracer.Start(ctx, "listing.Delete")
	defer span.End()

	l, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authz.RequireOwnerOrAdmin(actor, l.SellerID); err != nil {
		return ErrForbidden
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cleanup(ctx, id, l.Images)
	s.log.Info().Str("listing_id", id).Str("actor_id", actor.UserID).Int("images", len(l.Images)).Msg("listing deleted")
	return nil
}

// Approve publishes a pending listing and tells the seller.
func (s *Service) Approve(ctx context.Context, actor authz.Principal, id string) (Listing, error) {
	if err := authz.RequireAdmin(actor); err != nil {
		return Listing{}, ErrForbidden
	}
	approver := actor.UserID
	l, err := s.decide(ctx, id, StatusApproved, &approver)
	if err != nil {
		return Listing{}, err
	}

	s.notifySeller(ctx, l, "Your listing was approved",
		fmt.Sprintf("%q is now live on the marketplace.", l.Title))
	return l, nil
}

// Reject declines a pending listing and tells the seller.
func (s *Service) Reject(ctx context.Context, actor authz.Principal, id string) (Listing, error) {
	if err := authz.RequireAdmin(actor); err != nil {
		return Listing{}, ErrForbidden
	}
	l, err := s.decide(ctx, id, StatusRejected, nil)
	if err != nil {
		return Listing{}, err
	}

	s.notifySeller(ctx, l, "Your listing was not approved",
		fmt.Sprintf("%q was reviewed and not approved. You can submit a new listing.", l.Title))
	return l, nil
}

// AssignAgent sets or clears (agentID nil) the agent handling a listing.
func (s *Service) AssignAgent(ctx context.Context, actor authz.Principal, id string, agentID *string) (Listing, error) {
	if err := authz.RequireAdmin(actor); err != nil {
		return Listing{}, ErrForbidden
	}

	var agent identity.User
	if agentID != nil {
		var err error
		agent, err = s.users.GetUserByID(ctx, *agentID)
		if err != nil {
			return Listing{}, err
		}
		if agent.Role != identity.RoleAgent {
			return Listing{}, ErrNotAnAgent
		}
	}

	l, err := s.repo.AssignAgent(ctx, id, agentID)
	if err != nil {
		return Listing{}, err
	}

	s.log.Info().Str("listing_id", id).Str("actor_id", actor.UserID).Bool("assigned", agentID != nil).Msg("listing agent changed")
	if agentID != nil && s.notifier != nil {
		s.notifier.Notify(ctx, notify.Message{
			To:      []string{agent.Email},
			Subject: "A listing was assigned to you",
			Body:    fmt.Sprintf("You are now the agent for %q in %s (listing %s).", l.Title, l.Location, l.ID),
		})
	}
	return l, nil
}

func (s *Service) decide(ctx context.Context, id string, status Status, approvedBy *string) (Listing, error) {
	ctx, span := tracer.Start(ctx, "listing.Decide")
	defer span.End()
	span.SetAttributes(attribute.String("listing.id", id), attribute.String("listing.status", string(status)))

	l, err := s.repo.Decide(ctx, id, status, approvedBy)
	if err != nil {
		return Listing{}, err
	}
	metrics.ObserveListingTransition(string(status))
	s.log.Info().Str("listing_id", id).Str("status", string(status)).Msg("listing moderated")
	return l, nil
}

// store uploads files in order. On failure it removes what was already stored
// for this call and reports a storage failure.
func (s *Service) store(ctx context.Context, uploads []Upload) ([]Image, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if s.images == nil {
		return nil, fmt.Errorf("%w: no image store configured", ErrImageUpload)
	}

	stored := make([]Image, 0, len(uploads))
	for _, u := range uploads {
		obj, err := s.images.Upload(ctx, u.Content, imageFolder, u.Filename)
		if err != nil {
			s.cleanup(ctx, "", stored)
			return nil, fmt.Errorf("%w: %s: %w", ErrImageUpload, u.Filename, err)
		}
		stored = append(stored, Image{URL: obj.URL, StorageID: obj.ID})
	}
	return stored, nil
}

// cleanup deletes stored images one by one. Failures are logged and counted
// and never stop the remaining deletions.
func (s *Service) cleanup(ctx context.Context, listingID string, images []Image) {
	if s.images == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, img := range images {
		if err := s.images.Delete(ctx, img.StorageID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			metrics.ObserveImageCleanup("failed")
			s.log.Warn().Err(err).Str("listing_id", listingID).Str("storage_id", img.StorageID).Msg("image cleanup failed")
			continue
		}
		metrics.ObserveImageCleanup("deleted")
	}
}

func (s *Service) notifyAdmins(ctx context.Context, subject, body string) {
	if s.notifier != nil {
		s.notifier.NotifyAdmins(ctx, subject, body)
	}
}

func (s *Service) notifySeller(ctx context.Context, l Listing, subject, body string) {
	if s.notifier == nil {
		return
	}
	seller, err := s.users.GetUserByID(ctx, l.SellerID)
	if err != nil {
		s.log.Warn().Err(err).Str("listing_id", l.ID).Msg("seller lookup for notification failed")
		return
	}
	s.notifier.Notify(ctx, notify.Message{To: []string{seller.Email}, Subject: subject, Body: body})
}

func canView(l Listing, viewer authz.Principal) bool {
	if l.Status == StatusApproved || viewer.IsPrivileged() || viewer.Owns(l.SellerID) {
		return true
	}
	return l.AssignedAgentID != nil && viewer.Owns(*l.AssignedAgentID)
}

// retain returns the current images whose storage id appears in wanted, in
// current order. Unknown ids in wanted are ignored.
func retain(current, wanted []Image) []Image {
	keep := make(map[string]struct{}, len(wanted))
	for _, w := range wanted {
		keep[w.StorageID] = struct{}{}
	}
	out := make([]Image, 0, len(current))
	for _, img := range current {
		if _, ok := keep[img.StorageID]; ok {
			out = append(out, img)
		}
	}
	return out
}

func removed(before, after []Image) []Image {
	kept := make(map[string]struct{}, len(after))
	for _, img := range after {
		kept[img.StorageID] = struct{}{}
	}
	var out []Image
	for _, img := range before {
		if _, ok := kept[img.StorageID]; !ok {
			out = append(out, img)
		}
	}
	return out
}
