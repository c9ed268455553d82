package session

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"tellerline.org/internal/capability"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/links"
	"tellerline.org/internal/roles"
)

// State is a position in the session state machine. The principal as a whole
// moves Anonymous -> Authenticated -> LoggedOut; each scope moves between
// AccountSelected and TransactionInProgress.
type State string

const (
	StateAnonymous             State = "Anonymous"
	StateAuthenticated         State = "Authenticated"
	StateAccountSelected       State = "AccountSelected"
	StateTransactionInProgress State = "TransactionInProgress"
	StateLoggedOut             State = "LoggedOut"
)

func (s State) String() string { return string(s) }

// ScopeKey names one independently advancing scope held by a principal.
type ScopeKey string

const maxScopeKey = 64

// ParseScopeKey trims and validates a caller-supplied key.
func ParseScopeKey(raw string) (ScopeKey, error) {
	k := strings.TrimSpace(raw)
	if k == "" {
		return "", errs.Validationf("scope key is required")
	}
	if utf8.RuneCountInString(k) > maxScopeKey {
		return "", errs.Validationf("scope key exceeds %d characters", maxScopeKey)
	}
	return ScopeKey(k), nil
}

// AccountView is the account context shared by every scope variant.
type AccountView struct {
	AccountID     int64               `json:"account_id"`
	AccountNumber string              `json:"account_number"`
	AccountName   string              `json:"account_name"`
	Status        roles.AccountStatus `json:"status"`
	// AccessRoleID is zero for review scopes, which hold no link.
	AccessRoleID roles.AccessRoleID `json:"access_role_id,omitempty"`
	Capabilities capability.Set     `json:"capabilities"`
}

func viewOf(la links.LinkedAccount) AccountView {
	return AccountView{
		AccountID:     la.AccountID,
		AccountNumber: la.AccountNumber,
		AccountName:   la.AccountName,
		Status:        la.Status,
		AccessRoleID:  la.AccessRoleID,
		Capabilities:  la.Capabilities,
	}
}

// Scope is one of ActiveAccountSession, ReviewSession or TransactionSession.
type Scope interface {
	Account() AccountView
	isScope()
}

// ActiveAccountSession is an account a linked principal selected.
type ActiveAccountSession struct {
	AccountView
	OpenedAt time.Time `json:"opened_at"`
}

// ReviewSession is a staff view of an account the reviewer holds no link to.
// Every capability flag is false.
type ReviewSession struct {
	AccountView
	Reviewer string    `json:"reviewer"`
	OpenedAt time.Time `json:"opened_at"`
}

// TransactionSession is an in-flight operation nested in an active scope.
type TransactionSession struct {
	ActiveAccountSession
	Type                  capability.TransactionType `json:"type"`
	Amount                decimal.Decimal            `json:"amount"`
	CounterpartyAccountID int64                      `json:"counterparty_account_id,omitempty"`
	Vendor                string                     `json:"vendor,omitempty"`
	IdempotencyKey        string                     `json:"idempotency_key"`
	StartedAt             time.Time                  `json:"started_at"`
}

func (s ActiveAccountSession) Account() AccountView { return s.AccountView }
func (s ReviewSession) Account() AccountView        { return s.AccountView }
func (s TransactionSession) Account() AccountView   { return s.AccountView }

func (ActiveAccountSession) isScope() {}
func (ReviewSession) isScope()        {}
func (TransactionSession) isScope()   {}

// TransactionRequest is the input to BeginTransaction. Transfers name a
// counterparty account, bill payments a vendor; nothing else takes either.
type TransactionRequest struct {
	Type                  capability.TransactionType
	Amount                decimal.Decimal
	CounterpartyAccountID int64
	Vendor                string
}

func (r TransactionRequest) validate(accountID int64) error {
	if !r.Amount.IsPositive() {
		return errs.Validationf("amount must be greater than zero")
	}
	vendor := strings.TrimSpace(r.Vendor)
	hasAccount, hasVendor := r.CounterpartyAccountID != 0, vendor != ""
	if hasAccount && hasVendor {
		return errs.Validationf("counterparty must be an account or a vendor, not both")
	}
	switch r.Type {
	case capability.Transfer:
		if r.CounterpartyAccountID <= 0 {
			return errs.Validationf("transfer needs a counterparty account")
		}
		if r.CounterpartyAccountID == accountID {
			return errs.Validationf("transfer counterparty must differ from the source account")
		}
	case capability.BillPayment:
		if !hasVendor {
			return errs.Validationf("bill payment needs a vendor")
		}
	default:
		if hasAccount || hasVendor {
			return errs.Validationf("%s takes no counterparty", r.Type)
		}
	}
	return nil
}
