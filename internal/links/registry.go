package links

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tellerline.org/internal/audit"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/obs"
	"tellerline.org/internal/roles"
)

// Registry is the application-facing account link registry.
type Registry struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

// Option configures Registry.
type Option func(*Registry)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRegistry(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("link store is required")
	}
	r := &Registry{store: store, log: obs.Logger(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func validatePair(personID, accountID int64) error {
	if personID <= 0 {
		return errs.Validationf("person id must be positive")
	}
	if accountID <= 0 {
		return errs.Validationf("account id must be positive")
	}
	return nil
}

// LinkExists reports whether the (person, account) pair is linked.
func (r *Registry) LinkExists(ctx context.Context, personID, accountID int64) (bool, error) {
	if err := validatePair(personID, accountID); err != nil {
		return false, err
	}
	_, err := r.store.Get(ctx, personID, accountID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// AddLink inserts a new link. The insert itself is the conflict check; there
// is no existence pre-read.
func (r *Registry) AddLink(ctx context.Context, personID, accountID int64, role roles.AccessRoleID) (l Link, err error) {
	defer func() { obs.ObserveLinkOp("add", err) }()
	if err = validatePair(personID, accountID); err != nil {
		return Link{}, err
	}
	if !role.Valid() {
		return Link{}, errs.Validationf("unknown access role %d", role)
	}
	l = Link{PersonID: personID, AccountID: accountID, AccessRoleID: role, CreatedAt: r.now().UTC()}
	if err = r.store.Insert(ctx, &l); err != nil {
		r.log.Debug().Err(err).Int64("person_id", personID).Int64("account_id", accountID).Msg("add link rejected")
		return Link{}, err
	}
	_ = audit.LogEvent(ctx, audit.EventLinkAdded, map[string]any{
		"person_id":      personID,
		"account_id":     accountID,
		"access_role_id": int(role),
	})
	return l, nil
}

// RemoveLink deletes the link; an absent link is errs.ErrNotFound.
func (r *Registry) RemoveLink(ctx context.Context, personID, accountID int64) (err error) {
	defer func() { obs.ObserveLinkOp("remove", err) }()
	if err = validatePair(personID, accountID); err != nil {
		return err
	}
	if err = r.store.Delete(ctx, personID, accountID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, audit.EventLinkRemoved, map[string]any{
		"person_id":  personID,
		"account_id": accountID,
	})
	return nil
}

// ReassignRole changes the access role on an existing link by removing and
// recreating it in one unit of work.
func (r *Registry) ReassignRole(ctx context.Context, personID, accountID int64, role roles.AccessRoleID) (l Link, err error) {
	defer func() { obs.ObserveLinkOp("reassign", err) }()
	if err = validatePair(personID, accountID); err != nil {
		return Link{}, err
	}
	if !role.Valid() {
		return Link{}, errs.Validationf("unknown access role %d", role)
	}
	l = Link{PersonID: personID, AccountID: accountID, AccessRoleID: role, CreatedAt: r.now().UTC()}
	prev, err := r.store.Replace(ctx, &l)
	if err != nil {
		return Link{}, err
	}
	_ = audit.LogEvent(ctx, audit.EventLinkReassigned, map[string]any{
		"person_id":  personID,
		"account_id": accountID,
		"from_role":  int(prev.AccessRoleID),
		"to_role":    int(role),
	})
	return l, nil
}

// ListLinkedAccounts returns the person's accounts ordered by account id.
func (r *Registry) ListLinkedAccounts(ctx context.Context, personID int64) ([]LinkedAccount, error) {
	if personID <= 0 {
		return nil, errs.Validationf("person id must be positive")
	}
	rows, err := r.store.ListByPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	out := make([]LinkedAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, project(row))
	}
	return out, nil
}

// LinkedAccount reads one link and its account. Absence is errs.ErrNotFound.
func (r *Registry) LinkedAccount(ctx context.Context, personID, accountID int64) (LinkedAccount, error) {
	if err := validatePair(personID, accountID); err != nil {
		return LinkedAccount{}, err
	}
	row, err := r.store.GetWithAccount(ctx, personID, accountID)
	if err != nil {
		return LinkedAccount{}, err
	}
	return project(row), nil
}

// Account reads an account without regard to links, for staff review.
func (r *Registry) Account(ctx context.Context, accountID int64) (Account, error) {
	if accountID <= 0 {
		return Account{}, errs.Validationf("account id must be positive")
	}
	return r.store.Account(ctx, accountID)
}
