// Package capability derives what a linked person may do on an account from
// their access role and the account's lifecycle status.
package capability

import (
	"fmt"
	"strings"

	"tellerline.org/internal/roles"
)

// Set is the capability triple granted on one account.
type Set struct {
	CanTransact  bool `json:"can_transact"`
	CanApplyLoan bool `json:"can_apply_loan"`
	CanPayLoan   bool `json:"can_pay_loan"`
}

var (
	full     = Set{CanTransact: true, CanApplyLoan: true, CanPayLoan: true}
	none     = Set{}
	joint    = Set{CanTransact: true, CanPayLoan: true}
	viewOnly = none
)

// Resolve is total over every (role, status) pair. Rules apply in order:
// blocked statuses deny everything; an active primary owner gets everything;
// an active secondary owner may transact and pay loans; beneficiaries are
// view-only; anything else (unopened or idle accounts, unknown ids) gets nothing.
func Resolve(role roles.AccessRoleID, status roles.AccountStatus) Set {
	switch {
	case status.Blocked():
		return none
	case role == roles.PrimaryOwner && status == roles.StatusActive:
		return full
	case role == roles.SecondaryOwner && status == roles.StatusActive:
		return joint
	case role == roles.Beneficiary:
		return viewOnly
	default:
		return none
	}
}

// Any reports whether at least one capability is granted.
func (s Set) Any() bool {
	return s.CanTransact || s.CanApplyLoan || s.CanPayLoan
}

// Allows reports whether the set grants c.
func (s Set) Allows(c Capability) bool {
	switch c {
	case Transact:
		return s.CanTransact
	case ApplyLoan:
		return s.CanApplyLoan
	case PayLoan:
		return s.CanPayLoan
	}
	return false
}

// Capability names one flag of Set.
type Capability string

const (
	Transact  Capability = "canTransact"
	ApplyLoan Capability = "canApplyLoan"
	PayLoan   Capability = "canPayLoan"
)

// TransactionType is an operation a scope may begin.
type TransactionType string

const (
	Deposit         TransactionType = "deposit"
	Withdrawal      TransactionType = "withdrawal"
	Transfer        TransactionType = "transfer"
	BillPayment     TransactionType = "bill_payment"
	LoanApplication TransactionType = "loan_application"
	LoanPayment     TransactionType = "loan_payment"
)

var required = map[TransactionType]Capability{
	Deposit:         Transact,
	Withdrawal:      Transact,
	Transfer:        Transact,
	BillPayment:     Transact,
	LoanApplication: ApplyLoan,
	LoanPayment:     PayLoan,
}

// TransactionTypes lists every supported type.
func TransactionTypes() []TransactionType {
	return []TransactionType{Deposit, Withdrawal, Transfer, BillPayment, LoanApplication, LoanPayment}
}

// RequiredCapability returns the flag that gates t.
func (t TransactionType) RequiredCapability() (Capability, bool) {
	c, ok := required[t]
	return c, ok
}

// ParseTransactionType accepts the canonical snake_case names, case-insensitively.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := required[t]; !ok {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}
