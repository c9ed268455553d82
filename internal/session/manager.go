// Package session tracks what one authenticated principal is doing across
// any number of named account scopes.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tellerline.org/internal/audit"
	"tellerline.org/internal/auth"
	"tellerline.org/internal/credentials"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/ids"
	"tellerline.org/internal/ledger"
	"tellerline.org/internal/links"
	"tellerline.org/internal/obs"
)

// Authenticator resolves a login to an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, identifier, password string) (credentials.Identity, error)
}

// Directory is the read side of the account link registry.
type Directory interface {
	ListLinkedAccounts(ctx context.Context, personID int64) ([]links.LinkedAccount, error)
	LinkedAccount(ctx context.Context, personID, accountID int64) (links.LinkedAccount, error)
	Account(ctx context.Context, accountID int64) (links.Account, error)
}

var (
	_ Authenticator = (*credentials.Service)(nil)
	_ Directory     = (*links.Registry)(nil)
)

// slot holds one scope. mu serializes transitions on the key; state is
// readable without it.
type slot struct {
	mu     sync.Mutex
	closed bool
	active Scope
	tx     *TransactionSession
	state  atomic.Value // State
}

func newSlot() *slot {
	s := &slot{}
	s.state.Store(StateAuthenticated)
	return s
}

func (s *slot) load() State { return s.state.Load().(State) }

// Manager is the session of one principal connection. Operations on
// different scope keys proceed independently; the manager-wide lock only
// guards the principal phase and the key map and is never held across I/O.
type Manager struct {
	id      string
	authn   Authenticator
	dir     Directory
	proc    ledger.Processor
	log     zerolog.Logger
	now     func() time.Time
	loginMu sync.Mutex

	mu        sync.RWMutex
	phase     State
	principal auth.Principal
	accounts  []links.LinkedAccount
	scopes    map[ScopeKey]*slot
}

// Option configures Manager.
type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// New returns an Anonymous session.
func New(authn Authenticator, dir Directory, proc ledger.Processor, opts ...Option) (*Manager, error) {
	if authn == nil || dir == nil || proc == nil {
		return nil, errors.New("session requires an authenticator, a directory and a processor")
	}
	m := &Manager{
		id:     uuid.NewString(),
		authn:  authn,
		dir:    dir,
		proc:   proc,
		log:    obs.Logger(),
		now:    time.Now,
		phase:  StateAnonymous,
		scopes: make(map[ScopeKey]*slot),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("session_id", m.id).Logger()
	return m, nil
}

// ID correlates this session's log lines.
func (m *Manager) ID() string { return m.id }

func (m *Manager) opLog(p auth.Principal, op string) *zerolog.Logger {
	l := m.log.With().Str("realm", string(p.Realm)).Int64("principal_id", p.ID).Str("op", op).Logger()
	return &l
}

func (m *Manager) auditCtx(ctx context.Context, p auth.Principal) context.Context {
	return auth.ContextWithPrincipal(ctx, p)
}

// Login authenticates and loads the principal's linked accounts. Valid only
// from Anonymous.
func (m *Manager) Login(ctx context.Context, identifier, password string) (p auth.Principal, err error) {
	const op = "Login"
	defer func() { obs.ObserveScopeOp(op, err) }()

	m.loginMu.Lock()
	defer m.loginMu.Unlock()
	if phase := m.Phase(); phase != StateAnonymous {
		return auth.Principal{}, &errs.StateError{Op: op, State: string(phase)}
	}

	id, err := m.authn.Authenticate(ctx, identifier, password)
	if err != nil {
		return auth.Principal{}, err
	}
	p = auth.FromIdentity(id)

	var accounts []links.LinkedAccount
	if id.HasPerson() {
		accounts, err = m.dir.ListLinkedAccounts(ctx, *id.PersonID)
		if err != nil {
			return auth.Principal{}, errs.Wrapf(err, "list linked accounts")
		}
	}

	m.mu.Lock()
	if m.phase != StateAnonymous {
		phase := m.phase
		m.mu.Unlock()
		return auth.Principal{}, &errs.StateError{Op: op, State: string(phase)}
	}
	m.phase = StateAuthenticated
	m.principal = p
	m.accounts = accounts
	m.mu.Unlock()

	m.opLog(p, op).Info().Int("linked_accounts", len(accounts)).Msg("principal authenticated")
	_ = audit.LogEvent(m.auditCtx(ctx, p), audit.EventLogin, map[string]any{"session_id": m.id})
	return p, nil
}

// authenticated returns the principal when the session is Authenticated.
func (m *Manager) authenticated(op string) (auth.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.phase != StateAuthenticated {
		return auth.Principal{}, &errs.StateError{Op: op, State: string(m.phase)}
	}
	return m.principal, nil
}

// lockSlot finds the slot for key and locks it. create adds a fresh slot
// when the key is absent.
func (m *Manager) lockSlot(op string, key ScopeKey, create bool) (*slot, bool, error) {
	m.mu.Lock()
	if m.phase != StateAuthenticated {
		phase := m.phase
		m.mu.Unlock()
		return nil, false, &errs.StateError{Op: op, State: string(phase)}
	}
	s, ok := m.scopes[key]
	created := false
	if !ok {
		if !create {
			m.mu.Unlock()
			return nil, false, errs.NotFoundf("scope %q", key)
		}
		s = newSlot()
		m.scopes[key] = s
		created = true
	}
	m.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if phase := m.Phase(); phase != StateAuthenticated {
			return nil, false, &errs.StateError{Op: op, State: string(phase)}
		}
		return nil, false, errs.NotFoundf("scope %q", key)
	}
	return s, created, nil
}

// discardEmpty drops a slot that never reached AccountSelected. Caller holds s.mu.
func (m *Manager) discardEmpty(key ScopeKey, s *slot) {
	if s.active != nil {
		return
	}
	s.closed = true
	m.mu.Lock()
	if m.scopes[key] == s {
		delete(m.scopes, key)
	}
	m.mu.Unlock()
}

// SelectAccount activates one of the principal's linked accounts under key.
// Valid when key is new or AccountSelected; other scopes are untouched.
func (m *Manager) SelectAccount(ctx context.Context, key ScopeKey, accountID int64) (sess ActiveAccountSession, err error) {
	const op = "SelectAccount"
	defer func() { obs.ObserveScopeOp(op, err) }()
	if key, err = ParseScopeKey(string(key)); err != nil {
		return ActiveAccountSession{}, err
	}
	p, err := m.authenticated(op)
	if err != nil {
		return ActiveAccountSession{}, err
	}
	if !m.linkedAtLogin(accountID) || p.PersonID == nil {
		return ActiveAccountSession{}, errs.Denied(op, "account %d is not linked to %s", accountID, p.Subject())
	}

	s, created, err := m.lockSlot(op, key, true)
	if err != nil {
		return ActiveAccountSession{}, err
	}
	defer s.mu.Unlock()
	if state := s.load(); state == StateTransactionInProgress {
		m.discardEmpty(key, s)
		return ActiveAccountSession{}, &errs.StateError{Op: op, State: string(state)}
	}

	la, err := m.dir.LinkedAccount(ctx, *p.PersonID, accountID)
	if errors.Is(err, errs.ErrNotFound) {
		m.discardEmpty(key, s)
		return ActiveAccountSession{}, errs.Denied(op, "account %d is no longer linked to %s", accountID, p.Subject())
	}
	if err != nil {
		m.discardEmpty(key, s)
		return ActiveAccountSession{}, err
	}

	sess = ActiveAccountSession{AccountView: viewOf(la), OpenedAt: m.now().UTC()}
	m.activate(ctx, p, key, s, sess, created)
	return sess, nil
}

// ReviewAccount opens a staff review scope on any account. Only
// administrators and employees may review.
func (m *Manager) ReviewAccount(ctx context.Context, key ScopeKey, accountID int64) (sess ReviewSession, err error) {
	const op = "ReviewAccount"
	defer func() { obs.ObserveScopeOp(op, err) }()
	if key, err = ParseScopeKey(string(key)); err != nil {
		return ReviewSession{}, err
	}
	p, err := m.authenticated(op)
	if err != nil {
		return ReviewSession{}, err
	}
	if !p.Role.IsStaff() {
		return ReviewSession{}, errs.Denied(op, "role %s may not review accounts", p.Role)
	}

	s, created, err := m.lockSlot(op, key, true)
	if err != nil {
		return ReviewSession{}, err
	}
	defer s.mu.Unlock()
	if state := s.load(); state == StateTransactionInProgress {
		m.discardEmpty(key, s)
		return ReviewSession{}, &errs.StateError{Op: op, State: string(state)}
	}

	acct, err := m.dir.Account(ctx, accountID)
	if err != nil {
		m.discardEmpty(key, s)
		return ReviewSession{}, err
	}
	sess = ReviewSession{
		AccountView: AccountView{
			AccountID:     acct.ID,
			AccountNumber: acct.Number,
			AccountName:   acct.Name,
			Status:        acct.Status,
		},
		Reviewer: p.Subject(),
		OpenedAt: m.now().UTC(),
	}
	m.activate(ctx, p, key, s, sess, created)
	return sess, nil
}

// activate stores the selected variant. Caller holds s.mu.
func (m *Manager) activate(ctx context.Context, p auth.Principal, key ScopeKey, s *slot, sc Scope, created bool) {
	isNew := s.active == nil
	s.active = sc
	s.tx = nil
	s.state.Store(StateAccountSelected)
	if isNew {
		obs.ScopeOpened()
	}
	view := sc.Account()
	m.opLog(p, "activate").Debug().Str("scope", string(key)).Int64("account_id", view.AccountID).Bool("created", created).Msg("scope account selected")
	_ = audit.LogEvent(m.auditCtx(ctx, p), audit.EventScopeOpened, map[string]any{
		"session_id": m.id,
		"scope":      string(key),
		"account_id": view.AccountID,
	})
}

func (m *Manager) linkedAtLogin(accountID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.AccountID == accountID {
			return true
		}
	}
	return false
}

// BeginTransaction starts a transaction in an AccountSelected scope whose
// capability for the type is granted.
func (m *Manager) BeginTransaction(ctx context.Context, key ScopeKey, req TransactionRequest) (tx TransactionSession, err error) {
	const op = "BeginTransaction"
	defer func() { obs.ObserveScopeOp(op, err) }()
	if key, err = ParseScopeKey(string(key)); err != nil {
		return TransactionSession{}, err
	}
	p, err := m.authenticated(op)
	if err != nil {
		return TransactionSession{}, err
	}
	need, ok := req.Type.RequiredCapability()
	if !ok {
		return TransactionSession{}, errs.Validationf("unknown transaction type %q", req.Type)
	}

	s, _, err := m.lockSlot(op, key, false)
	if err != nil {
		return TransactionSession{}, err
	}
	defer s.mu.Unlock()
	if state := s.load(); state != StateAccountSelected {
		return TransactionSession{}, &errs.StateError{Op: op, State: string(state)}
	}
	active, ok := s.active.(ActiveAccountSession)
	if !ok || !active.Capabilities.Allows(need) {
		return TransactionSession{}, errs.Denied(op, "%s requires %s on account %d", req.Type, need, s.active.Account().AccountID)
	}
	if err := req.validate(active.AccountID); err != nil {
		return TransactionSession{}, err
	}

	tx = TransactionSession{
		ActiveAccountSession:  active,
		Type:                  req.Type,
		Amount:                req.Amount,
		CounterpartyAccountID: req.CounterpartyAccountID,
		Vendor:                req.Vendor,
		IdempotencyKey:        ids.New(),
		StartedAt:             m.now().UTC(),
	}
	s.tx = &tx
	s.state.Store(StateTransactionInProgress)
	m.opLog(p, op).Debug().Str("scope", string(key)).Str("type", string(req.Type)).Msg("transaction started")
	return tx, nil
}

// CommitTransaction hands the transaction to the processor. On success the
// scope returns to AccountSelected; on failure it stays in progress.
func (m *Manager) CommitTransaction(ctx context.Context, key ScopeKey) (r ledger.Receipt, err error) {
	const op = "CommitTransaction"
	defer func() { obs.ObserveScopeOp(op, err) }()
	if key, err = ParseScopeKey(string(key)); err != nil {
		return ledger.Receipt{}, err
	}
	p, err := m.authenticated(op)
	if err != nil {
		return ledger.Receipt{}, err
	}
	s, _, err := m.lockSlot(op, key, false)
	if err != nil {
		return ledger.Receipt{}, err
	}
	defer s.mu.Unlock()
	if state := s.load(); state != StateTransactionInProgress {
		return ledger.Receipt{}, &errs.StateError{Op: op, State: string(state)}
	}

	tx := *s.tx
	r, err = m.proc.Process(ctx, ledger.Request{
		AccountID:             tx.AccountID,
		Type:                  tx.Type,
		Amount:                tx.Amount,
		CounterpartyAccountID: tx.CounterpartyAccountID,
		Vendor:                tx.Vendor,
		IdempotencyKey:        tx.IdempotencyKey,
		Principal:             p.Subject(),
	})
	if err != nil {
		m.opLog(p, op).Warn().Err(err).Str("scope", string(key)).Msg("transaction processing failed")
		return ledger.Receipt{}, errs.Wrapf(err, "process %s", tx.Type)
	}

	s.tx = nil
	s.state.Store(StateAccountSelected)
	_ = audit.LogEvent(m.auditCtx(ctx, p), audit.EventTxCommitted, map[string]any{
		"session_id":   m.id,
		"scope":        string(key),
		"account_id":   tx.AccountID,
		"type":         string(tx.Type),
		"amount":       tx.Amount.String(),
		"confirmation": r.Confirmation,
	})
	return r, nil
}

// CancelTransaction discards the in-flight transaction.
func (m *Manager) CancelTransaction(_ context.Context, key ScopeKey) (err error) {
	const op = "CancelTransaction"
	defer func() { obs.ObserveScopeOp(op, err) }()
	if key, err = ParseScopeKey(string(key)); err != nil {
		return err
	}
	p, err := m.authenticated(op)
	if err != nil {
		return err
	}
	s, _, err := m.lockSlot(op, key, false)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	if state := s.load(); state != StateTransactionInProgress {
		return &errs.StateError{Op: op, State: string(state)}
	}
	s.tx = nil
	s.state.Store(StateAccountSelected)
	m.opLog(p, op).Debug().Str("scope", string(key)).Msg("transaction cancelled")
	return nil
}

// CloseScope removes one scope, discarding any in-flight transaction.
func (m *Manager) CloseScope(ctx context.Context, key ScopeKey) (err error) {
	const op = "CloseScope"
	defer func() { obs.ObserveScopeOp(op, err) }()
	if key, err = ParseScopeKey(string(key)); err != nil {
		return err
	}

	m.mu.Lock()
	if m.phase != StateAuthenticated {
		phase := m.phase
		m.mu.Unlock()
		return &errs.StateError{Op: op, State: string(phase)}
	}
	p := m.principal
	s, ok := m.scopes[key]
	if ok {
		delete(m.scopes, key)
	}
	m.mu.Unlock()
	if !ok {
		return errs.NotFoundf("scope %q", key)
	}

	s.mu.Lock()
	s.closed = true
	live := s.active != nil
	s.active, s.tx = nil, nil
	s.mu.Unlock()
	if live {
		obs.ScopesClosed(1)
	}
	_ = audit.LogEvent(m.auditCtx(ctx, p), audit.EventScopeClosed, map[string]any{"session_id": m.id, "scope": string(key)})
	return nil
}

// Logout clears every scope. LoggedOut is terminal.
func (m *Manager) Logout(ctx context.Context) (err error) {
	const op = "Logout"
	defer func() { obs.ObserveScopeOp(op, err) }()

	m.mu.Lock()
	if m.phase == StateLoggedOut {
		m.mu.Unlock()
		return &errs.StateError{Op: op, State: string(StateLoggedOut)}
	}
	wasAuthenticated := m.phase == StateAuthenticated
	p := m.principal
	scopes := m.scopes
	m.phase = StateLoggedOut
	m.scopes = make(map[ScopeKey]*slot)
	m.accounts = nil
	m.mu.Unlock()

	closed := 0
	for _, s := range scopes {
		s.mu.Lock()
		if s.active != nil {
			closed++
		}
		s.closed = true
		s.active, s.tx = nil, nil
		s.mu.Unlock()
	}
	obs.ScopesClosed(closed)
	if wasAuthenticated {
		m.opLog(p, op).Info().Int("scopes_closed", closed).Msg("principal logged out")
		_ = audit.LogEvent(m.auditCtx(ctx, p), audit.EventLogout, map[string]any{"session_id": m.id, "scopes_closed": closed})
	}
	return nil
}

// Phase is the principal-level state: Anonymous, Authenticated or LoggedOut.
func (m *Manager) Phase() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// State summarizes the session: the phase, or once authenticated the most
// advanced state held by any scope.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.phase != StateAuthenticated {
		return m.phase
	}
	state := StateAuthenticated
	for _, s := range m.scopes {
		switch s.load() {
		case StateTransactionInProgress:
			return StateTransactionInProgress
		case StateAccountSelected:
			state = StateAccountSelected
		}
	}
	return state
}

// ScopeState reports the state of one scope.
func (m *Manager) ScopeState(key ScopeKey) (State, error) {
	key, err := ParseScopeKey(string(key))
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	s, ok := m.scopes[key]
	m.mu.RUnlock()
	if !ok {
		return "", errs.NotFoundf("scope %q", key)
	}
	state := s.load()
	if state == StateAuthenticated {
		return "", errs.NotFoundf("scope %q", key)
	}
	return state, nil
}

// Scope returns a snapshot of the scope's current variant: the transaction
// when one is in progress, otherwise the selected account.
func (m *Manager) Scope(key ScopeKey) (Scope, error) {
	key, err := ParseScopeKey(string(key))
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	s, ok := m.scopes[key]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.NotFoundf("scope %q", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed || s.active == nil:
		return nil, errs.NotFoundf("scope %q", key)
	case s.tx != nil:
		return *s.tx, nil
	default:
		return s.active, nil
	}
}

// ScopeKeys lists the live scope keys in order.
func (m *Manager) ScopeKeys() []ScopeKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]ScopeKey, 0, len(m.scopes))
	for k, s := range m.scopes {
		if s.load() != StateAuthenticated {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Accounts returns the linked accounts loaded at login.
func (m *Manager) Accounts() []links.LinkedAccount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]links.LinkedAccount, len(m.accounts))
	copy(out, m.accounts)
	return out
}

// Principal returns the authenticated principal, if any.
func (m *Manager) Principal() (auth.Principal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.phase != StateAuthenticated {
		return auth.Principal{}, false
	}
	return m.principal, true
}
