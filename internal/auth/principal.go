package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tellerline.org/internal/credentials"
	"tellerline.org/internal/roles"
)

// Principal is an authenticated login as seen by everything above the realms.
type Principal struct {
	Realm    credentials.Realm
	ID       int64
	Role     roles.RoleID
	PersonID *int64
	Username string
}

// FromIdentity converts an authentication result into a principal.
func FromIdentity(id credentials.Identity) Principal {
	return Principal{
		Realm:    id.Realm,
		ID:       id.PrincipalID,
		Role:     id.RoleID,
		PersonID: id.PersonID,
		Username: id.Username,
	}
}

// Subject renders the principal as "<realm>:<id>"; ids are only unique within a realm.
func (p Principal) Subject() string {
	return fmt.Sprintf("%s:%d", p.Realm, p.ID)
}

// ParseSubject is the inverse of Subject.
func ParseSubject(sub string) (credentials.Realm, int64, error) {
	realm, rawID, ok := strings.Cut(sub, ":")
	if !ok {
		return "", 0, fmt.Errorf("malformed subject %q", sub)
	}
	r := credentials.Realm(realm)
	if !r.Valid() {
		return "", 0, fmt.Errorf("unknown realm in subject %q", sub)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, fmt.Errorf("malformed principal id in subject %q", sub)
	}
	return r, id, nil
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
