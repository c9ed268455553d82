package credentials

import (
	"context"
	"time"

	"tellerline.org/internal/roles"
)

// Realm names one of the disjoint credential tables.
type Realm string

const (
	RealmCustomer Realm = "customer"
	RealmUser     Realm = "user"
	RealmEmployee Realm = "employee"
)

// Realms lists every realm in lookup order.
func Realms() []Realm {
	return []Realm{RealmCustomer, RealmUser, RealmEmployee}
}

func (r Realm) Valid() bool {
	_, ok := policies[r]
	return ok
}

// bcrypt digests are always 60 bytes.
const digestLength = 60

// RealmPolicy carries the per-realm column constraints.
type RealmPolicy struct {
	MaxUsername  int
	MaxEmail     int
	DigestLength int
	// RoleScoped realms store a role id on each credential; the employee realm does not.
	RoleScoped bool
}

var policies = map[Realm]RealmPolicy{
	RealmCustomer: {MaxUsername: 20, MaxEmail: 254, DigestLength: digestLength, RoleScoped: true},
	RealmUser:     {MaxUsername: 20, MaxEmail: 254, DigestLength: digestLength, RoleScoped: true},
	RealmEmployee: {MaxUsername: 20, MaxEmail: 254, DigestLength: digestLength},
}

// PolicyFor returns the constraints for realm.
func PolicyFor(realm Realm) (RealmPolicy, bool) {
	p, ok := policies[realm]
	return p, ok
}

// Credential is one login row of any realm.
type Credential struct {
	ID           int64
	Realm        Realm
	Username     string
	Email        string
	PasswordHash string
	RoleID       roles.RoleID
	PersonID     *int64
	CreatedAt    time.Time
}

// EffectiveRole is the role a principal acts under after login.
func (c Credential) EffectiveRole() roles.RoleID {
	if c.Realm == RealmEmployee {
		return roles.RoleEmployee
	}
	return c.RoleID
}

// Identity is the result of a successful authentication.
type Identity struct {
	Realm       Realm
	PrincipalID int64
	RoleID      roles.RoleID
	PersonID    *int64
	Username    string
}

// HasPerson reports whether the credential is attached to a person profile.
func (id Identity) HasPerson() bool { return id.PersonID != nil }

// Store is the persistence collaborator for the three realms. Lookups return
// errs.ErrNotFound when absent; Create returns errs.ErrConflict on a
// duplicate username or email within the realm.
type Store interface {
	FindByEmail(ctx context.Context, realm Realm, email string) (Credential, error)
	FindByUsername(ctx context.Context, realm Realm, username string) (Credential, error)
	Create(ctx context.Context, c *Credential) error
}
