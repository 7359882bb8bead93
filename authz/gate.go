// Package authz resolves bearer credentials to principals and answers the
// authorization questions the domain services ask.
//
// Administrative privilege has two independent sources: the role stored on
// the identity and membership of the configured e-mail allow-list. Both are
// combined in Principal.IsPrivileged.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"widesquare/apperr"
	"widesquare/identity"
)

var (
	// ErrUnauthenticated signals a missing, malformed or unverifiable credential.
	ErrUnauthenticated = fmt.Errorf("authz: %w", apperr.ErrUnauthenticated)
	// ErrForbidden signals an authenticated principal lacking privilege or ownership.
	ErrForbidden = fmt.Errorf("authz: %w", apperr.ErrForbidden)
)

// Principal is the resolved caller of an operation.
type Principal struct {
	UserID      string
	Email       string
	Name        string
	Role        identity.Role
	AllowListed bool
}

// IsPrivileged reports administrative privilege from either source.
func (p Principal) IsPrivileged() bool {
	return p.Role == identity.RoleAdmin || p.AllowListed
}

// Authenticated reports whether p refers to an identity.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

// Owns reports whether ownerID refers to p.
func (p Principal) Owns(ownerID string) bool {
	return p.UserID != "" && p.UserID == ownerID
}

// RequireOwnerOrAdmin succeeds when p owns the resource or is privileged.
func RequireOwnerOrAdmin(p Principal, ownerID string) error {
	if p.Owns(ownerID) || p.IsPrivileged() {
		return nil
	}
	return ErrForbidden
}

// RequireAdmin succeeds when p is privileged.
func RequireAdmin(p Principal) error {
	if p.IsPrivileged() {
		return nil
	}
	return ErrForbidden
}

// AllowList is the set of administrator e-mail addresses.
type AllowList struct {
	emails map[string]struct{}
}

// NewAllowList builds a case-insensitive allow-list.
func NewAllowList(emails []string) AllowList {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			set[e] = struct{}{}
		}
	}
	return AllowList{emails: set}
}

// Contains reports membership of email.
func (a AllowList) Contains(email string) bool {
	_, ok := a.emails[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// TokenVerifier turns a bearer token into the user id it was issued for.
type TokenVerifier interface {
	VerifyToken(token string) (string, identity.Role, error)
}

// UserLookup loads the current identity record.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
}

// Gate resolves credentials to principals.
type Gate struct {
	tokens TokenVerifier
	users  UserLookup
	admins AllowList
}

func NewGate(tokens TokenVerifier, users UserLookup, admins AllowList) *Gate {
	return &Gate{tokens: tokens, users: users, admins: admins}
}

// Resolve verifies the value of an Authorization header ("Bearer <token>")
// and loads the identity it names. The stored role wins over the role claim
// so elevation and demotion take effect without re-login.
func (g *Gate) Resolve(ctx context.Context, authorization string) (Principal, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return Principal{}, ErrUnauthenticated
	}

	userID, _, err := g.tokens.VerifyToken(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	user, err := g.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("authz: load identity: %w", err)
	}

	return g.PrincipalFor(user), nil
}

// PrincipalFor builds the principal of a loaded identity.
func (g *Gate) PrincipalFor(user identity.User) Principal {
	return Principal{
		UserID:      user.ID,
		Email:       user.Email,
		Name:        user.Name,
		Role:        user.Role,
		AllowListed: g.admins.Contains(user.Email),
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
