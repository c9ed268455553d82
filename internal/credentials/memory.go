package credentials

import (
	"context"
	"strings"
	"sync"

	"tellerline.org/internal/errs"
)

var _ Store = (*MemoryStore)(nil)

type realmTable struct {
	rows       map[int64]*Credential
	byEmail    map[string]int64
	byUsername map[string]int64
}

// MemoryStore keeps every realm in process. Uniqueness is enforced per realm
// under one lock, the same guarantee the SQL unique indexes give.
type MemoryStore struct {
	mu     sync.RWMutex
	realms map[Realm]*realmTable
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{realms: make(map[Realm]*realmTable)}
	for _, r := range Realms() {
		s.realms[r] = &realmTable{
			rows:       make(map[int64]*Credential),
			byEmail:    make(map[string]int64),
			byUsername: make(map[string]int64),
		}
	}
	return s
}

func (s *MemoryStore) FindByEmail(_ context.Context, realm Realm, email string) (Credential, error) {
	return s.find(realm, func(t *realmTable) (int64, bool) {
		id, ok := t.byEmail[strings.ToLower(email)]
		return id, ok
	})
}

func (s *MemoryStore) FindByUsername(_ context.Context, realm Realm, username string) (Credential, error) {
	return s.find(realm, func(t *realmTable) (int64, bool) {
		id, ok := t.byUsername[username]
		return id, ok
	})
}

func (s *MemoryStore) find(realm Realm, index func(*realmTable) (int64, bool)) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.realms[realm]
	if !ok {
		return Credential{}, errs.Validationf("unknown realm %q", realm)
	}
	id, ok := index(t)
	if !ok {
		return Credential{}, errs.NotFoundf("%s credential", realm)
	}
	return *t.rows[id], nil
}

func (s *MemoryStore) Create(_ context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.realms[c.Realm]
	if !ok {
		return errs.Validationf("unknown realm %q", c.Realm)
	}
	email := strings.ToLower(c.Email)
	if _, dup := t.byUsername[c.Username]; dup {
		return errs.Conflictf("%s username %q already registered", c.Realm, c.Username)
	}
	if _, dup := t.byEmail[email]; dup {
		return errs.Conflictf("%s email already registered", c.Realm)
	}
	s.nextID++
	c.ID = s.nextID
	row := *c
	t.rows[c.ID] = &row
	t.byEmail[email] = c.ID
	t.byUsername[c.Username] = c.ID
	return nil
}
