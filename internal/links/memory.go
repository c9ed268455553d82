package links

import (
	"context"
	"sort"
	"sync"

	"tellerline.org/internal/errs"
	"tellerline.org/internal/roles"
)

var _ Store = (*MemoryStore)(nil)

type pair struct{ person, account int64 }

// MemoryStore keeps accounts and links in process. Every mutation runs under
// one lock, which gives Insert the same atomicity as a unique index.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[int64]Account
	links    map[pair]Link
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]Account),
		links:    make(map[pair]Link),
	}
}

// PutAccount creates or replaces an account record.
func (s *MemoryStore) PutAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// SetStatus moves an account to a new lifecycle status.
func (s *MemoryStore) SetStatus(accountID int64, status roles.AccountStatus) error {
	if !status.Valid() {
		return errs.Validationf("unknown account status %d", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return errs.NotFoundf("account %d", accountID)
	}
	a.Status = status
	s.accounts[accountID] = a
	return nil
}

// DeleteAccount removes an account and applies the link relation's delete policy.
func (s *MemoryStore) DeleteAccount(accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return errs.NotFoundf("account %d", accountID)
	}
	rel, _ := roles.RelationTo("accounts")
	var dependents []pair
	for k := range s.links {
		if k.account == accountID {
			dependents = append(dependents, k)
		}
	}
	if len(dependents) > 0 && rel.OnDelete == roles.Restrict {
		return errs.Conflictf("account %d still has %d links", accountID, len(dependents))
	}
	for _, k := range dependents {
		delete(s.links, k)
	}
	delete(s.accounts, accountID)
	return nil
}

func (s *MemoryStore) Account(_ context.Context, accountID int64) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return Account{}, errs.NotFoundf("account %d", accountID)
	}
	return a, nil
}

func (s *MemoryStore) Get(_ context.Context, personID, accountID int64) (Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[pair{personID, accountID}]
	if !ok {
		return Link{}, errs.NotFoundf("link person=%d account=%d", personID, accountID)
	}
	return l, nil
}

func (s *MemoryStore) Insert(_ context.Context, l *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRefs(*l); err != nil {
		return err
	}
	k := pair{l.PersonID, l.AccountID}
	if _, dup := s.links[k]; dup {
		return errs.Conflictf("link person=%d account=%d already exists", l.PersonID, l.AccountID)
	}
	if err := s.checkPrimary(*l); err != nil {
		return err
	}
	s.links[k] = *l
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, personID, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pair{personID, accountID}
	if _, ok := s.links[k]; !ok {
		return errs.NotFoundf("link person=%d account=%d", personID, accountID)
	}
	delete(s.links, k)
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, next *Link) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pair{next.PersonID, next.AccountID}
	prev, ok := s.links[k]
	if !ok {
		return Link{}, errs.NotFoundf("link person=%d account=%d", next.PersonID, next.AccountID)
	}
	if err := s.checkRefs(*next); err != nil {
		return Link{}, err
	}
	delete(s.links, k)
	if err := s.checkPrimary(*next); err != nil {
		s.links[k] = prev
		return Link{}, err
	}
	s.links[k] = *next
	return prev, nil
}

func (s *MemoryStore) ListByPerson(_ context.Context, personID int64) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []Row
	for k, l := range s.links {
		if k.person != personID {
			continue
		}
		rows = append(rows, Row{Link: l, Account: s.accounts[k.account]})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Link.AccountID < rows[j].Link.AccountID })
	return rows, nil
}

func (s *MemoryStore) GetWithAccount(_ context.Context, personID, accountID int64) (Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[pair{personID, accountID}]
	if !ok {
		return Row{}, errs.NotFoundf("link person=%d account=%d", personID, accountID)
	}
	return Row{Link: l, Account: s.accounts[accountID]}, nil
}

// checkRefs mirrors the foreign keys on account_links.
func (s *MemoryStore) checkRefs(l Link) error {
	if !l.AccessRoleID.Valid() {
		return errs.Validationf("unknown access role %d", l.AccessRoleID)
	}
	if _, ok := s.accounts[l.AccountID]; !ok {
		return errs.Validationf("unknown account %d", l.AccountID)
	}
	return nil
}

// checkPrimary mirrors the partial unique index on primary owners.
func (s *MemoryStore) checkPrimary(l Link) error {
	if l.AccessRoleID != roles.PrimaryOwner {
		return nil
	}
	for k, other := range s.links {
		if k.account == l.AccountID && other.AccessRoleID == roles.PrimaryOwner {
			return errs.Conflictf("account %d already has a primary owner", l.AccountID)
		}
	}
	return nil
}
