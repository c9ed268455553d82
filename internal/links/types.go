// Package links is the ownership graph binding persons to accounts under an
// access role.
package links

import (
	"context"
	"time"

	"tellerline.org/internal/capability"
	"tellerline.org/internal/roles"
)

// Link is one (person, account) join record.
type Link struct {
	PersonID     int64              `json:"person_id"`
	AccountID    int64              `json:"account_id"`
	AccessRoleID roles.AccessRoleID `json:"access_role_id"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Account is the slice of the external account record the registry reads.
type Account struct {
	ID     int64               `json:"id"`
	Number string              `json:"number"`
	Name   string              `json:"name"`
	Status roles.AccountStatus `json:"status"`
}

// Row is a link joined with its account.
type Row struct {
	Link    Link
	Account Account
}

// LinkedAccount is the selectable projection of a link, with capabilities resolved.
type LinkedAccount struct {
	AccountID     int64               `json:"account_id"`
	AccountNumber string              `json:"account_number"`
	AccountName   string              `json:"account_name"`
	Status        roles.AccountStatus `json:"status"`
	AccessRoleID  roles.AccessRoleID  `json:"access_role_id"`
	Capabilities  capability.Set      `json:"capabilities"`
}

func project(r Row) LinkedAccount {
	return LinkedAccount{
		AccountID:     r.Account.ID,
		AccountNumber: r.Account.Number,
		AccountName:   r.Account.Name,
		Status:        r.Account.Status,
		AccessRoleID:  r.Link.AccessRoleID,
		Capabilities:  capability.Resolve(r.Link.AccessRoleID, r.Account.Status),
	}
}

// Store is the persistence collaborator. Insert must be atomic: a duplicate
// (person, account) pair or a second primary owner returns errs.ErrConflict,
// an unknown account or access role returns errs.ErrValidation. Replace swaps
// a link's role as one unit of work and returns the previous link.
type Store interface {
	Get(ctx context.Context, personID, accountID int64) (Link, error)
	Insert(ctx context.Context, l *Link) error
	Delete(ctx context.Context, personID, accountID int64) error
	Replace(ctx context.Context, next *Link) (Link, error)
	ListByPerson(ctx context.Context, personID int64) ([]Row, error)
	GetWithAccount(ctx context.Context, personID, accountID int64) (Row, error)
	Account(ctx context.Context, accountID int64) (Account, error)
}
