package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tellerline.org/internal/errs"
	"tellerline.org/internal/links"
	"tellerline.org/internal/roles"
)

var _ links.Store = (*Store)(nil)

const linkRowColumns = `
	l.person_id, l.account_id, l.access_role_id, l.created_at,
	a.id, a.number, a.name, a.status_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLinkRow(sc rowScanner) (links.Row, error) {
	var (
		r      links.Row
		role   int
		status int
	)
	if err := sc.Scan(&r.Link.PersonID, &r.Link.AccountID, &role, &r.Link.CreatedAt,
		&r.Account.ID, &r.Account.Number, &r.Account.Name, &status); err != nil {
		return links.Row{}, err
	}
	r.Link.AccessRoleID = roles.AccessRoleID(role)
	r.Account.Status = roles.AccountStatus(status)
	return r, nil
}

func linkNotFound(personID, accountID int64) error {
	return errs.NotFoundf("link person=%d account=%d", personID, accountID)
}

func (s *Store) Get(ctx context.Context, personID, accountID int64) (links.Link, error) {
	if s.db == nil {
		return links.Link{}, errors.New("database connection unavailable")
	}
	var (
		l    = links.Link{PersonID: personID, AccountID: accountID}
		role int
	)
	err := s.db.QueryRowContext(ctx, `
		select access_role_id, created_at
		from account_links
		where person_id = $1 and account_id = $2
	`, personID, accountID).Scan(&role, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return links.Link{}, linkNotFound(personID, accountID)
	}
	if err != nil {
		return links.Link{}, err
	}
	l.AccessRoleID = roles.AccessRoleID(role)
	return l, nil
}

// Insert relies on the composite primary key and the primary-owner partial
// index; either violation is the conflict signal.
func (s *Store) Insert(ctx context.Context, l *links.Link) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into account_links (person_id, account_id, access_role_id, created_at)
		values ($1, $2, $3, $4)
	`, l.PersonID, l.AccountID, int(l.AccessRoleID), l.CreatedAt)
	if err != nil {
		return constraintError(err, fmt.Sprintf("link person=%d account=%d", l.PersonID, l.AccountID))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, personID, accountID int64) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		delete from account_links
		where person_id = $1 and account_id = $2
	`, personID, accountID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return linkNotFound(personID, accountID)
	}
	return nil
}

// Replace deletes and recreates the link in one transaction, so the audit
// trail sees a new row rather than an in-place update.
func (s *Store) Replace(ctx context.Context, next *links.Link) (links.Link, error) {
	if s.db == nil {
		return links.Link{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return links.Link{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prev := links.Link{PersonID: next.PersonID, AccountID: next.AccountID}
	var role int
	err = tx.QueryRowContext(ctx, `
		delete from account_links
		where person_id = $1 and account_id = $2
		returning access_role_id, created_at
	`, next.PersonID, next.AccountID).Scan(&role, &prev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return links.Link{}, linkNotFound(next.PersonID, next.AccountID)
	}
	if err != nil {
		return links.Link{}, err
	}
	prev.AccessRoleID = roles.AccessRoleID(role)

	if _, err := tx.ExecContext(ctx, `
		insert into account_links (person_id, account_id, access_role_id, created_at)
		values ($1, $2, $3, $4)
	`, next.PersonID, next.AccountID, int(next.AccessRoleID), next.CreatedAt); err != nil {
		return links.Link{}, constraintError(err, fmt.Sprintf("link person=%d account=%d", next.PersonID, next.AccountID))
	}
	if err := tx.Commit(); err != nil {
		return links.Link{}, err
	}
	return prev, nil
}

func (s *Store) ListByPerson(ctx context.Context, personID int64) ([]links.Row, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+linkRowColumns+`
		from account_links l
		join accounts a on a.id = l.account_id
		where l.person_id = $1
		order by l.account_id
	`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []links.Row
	for rows.Next() {
		r, err := scanLinkRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetWithAccount(ctx context.Context, personID, accountID int64) (links.Row, error) {
	if s.db == nil {
		return links.Row{}, errors.New("database connection unavailable")
	}
	r, err := scanLinkRow(s.db.QueryRowContext(ctx, `
		select `+linkRowColumns+`
		from account_links l
		join accounts a on a.id = l.account_id
		where l.person_id = $1 and l.account_id = $2
	`, personID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return links.Row{}, linkNotFound(personID, accountID)
	}
	return r, err
}

func (s *Store) Account(ctx context.Context, accountID int64) (links.Account, error) {
	if s.db == nil {
		return links.Account{}, errors.New("database connection unavailable")
	}
	var (
		a      links.Account
		status int
	)
	err := s.db.QueryRowContext(ctx, `
		select id, number, name, status_id
		from accounts
		where id = $1
	`, accountID).Scan(&a.ID, &a.Number, &a.Name, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return links.Account{}, errs.NotFoundf("account %d", accountID)
	}
	if err != nil {
		return links.Account{}, err
	}
	a.Status = roles.AccountStatus(status)
	return a, nil
}
