package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tellerline.org/internal/credentials"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/roles"
)

var _ credentials.Store = (*Store)(nil)

// realmTables maps each realm to its table. The employee table has no role column.
var realmTables = map[credentials.Realm]string{
	credentials.RealmCustomer: "customer_auth",
	credentials.RealmUser:     "user_auth",
	credentials.RealmEmployee: "employee_auth",
}

func realmTable(realm credentials.Realm) (string, credentials.RealmPolicy, error) {
	table, ok := realmTables[realm]
	if !ok {
		return "", credentials.RealmPolicy{}, errs.Validationf("unknown realm %q", realm)
	}
	policy, _ := credentials.PolicyFor(realm)
	return table, policy, nil
}

func (s *Store) FindByEmail(ctx context.Context, realm credentials.Realm, email string) (credentials.Credential, error) {
	return s.findCredential(ctx, realm, "lower(email) = $1", strings.ToLower(email))
}

func (s *Store) FindByUsername(ctx context.Context, realm credentials.Realm, username string) (credentials.Credential, error) {
	return s.findCredential(ctx, realm, "username = $1", username)
}

func (s *Store) findCredential(ctx context.Context, realm credentials.Realm, where string, arg string) (credentials.Credential, error) {
	if s.db == nil {
		return credentials.Credential{}, errors.New("database connection unavailable")
	}
	table, policy, err := realmTable(realm)
	if err != nil {
		return credentials.Credential{}, err
	}
	roleCol := "0"
	if policy.RoleScoped {
		roleCol = "role_id"
	}
	query := fmt.Sprintf(`
		select id, username, email, password, %s, person_id, created_at
		from %s
		where %s
	`, roleCol, table, where)

	var (
		c      = credentials.Credential{Realm: realm}
		role   int
		person sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.Username, &c.Email, &c.PasswordHash, &role, &person, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Credential{}, errs.NotFoundf("%s credential", realm)
	}
	if err != nil {
		return credentials.Credential{}, err
	}
	c.RoleID = roles.RoleID(role)
	if person.Valid {
		id := person.Int64
		c.PersonID = &id
	}
	return c, nil
}

func (s *Store) Create(ctx context.Context, c *credentials.Credential) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	table, policy, err := realmTable(c.Realm)
	if err != nil {
		return err
	}
	person := sql.NullInt64{}
	if c.PersonID != nil {
		person = sql.NullInt64{Int64: *c.PersonID, Valid: true}
	}

	var row *sql.Row
	if policy.RoleScoped {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(`
			insert into %s (username, email, password, role_id, person_id, created_at)
			values ($1, $2, $3, $4, $5, $6)
			returning id
		`, table), c.Username, c.Email, c.PasswordHash, int(c.RoleID), person, c.CreatedAt)
	} else {
		row = s.db.QueryRowContext(ctx, fmt.Sprintf(`
			insert into %s (username, email, password, person_id, created_at)
			values ($1, $2, $3, $4, $5)
			returning id
		`, table), c.Username, c.Email, c.PasswordHash, person, c.CreatedAt)
	}
	if err := row.Scan(&c.ID); err != nil {
		return constraintError(err, fmt.Sprintf("%s credential", c.Realm))
	}
	return nil
}
