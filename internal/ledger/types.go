package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tellerline.org/internal/capability"
)

// Request is one transaction handed over for processing.
type Request struct {
	AccountID int64                      `json:"account_id"`
	Type      capability.TransactionType `json:"type"`
	Amount    decimal.Decimal            `json:"amount"`
	// Exactly one counterparty form applies to transfers and bill payments.
	CounterpartyAccountID int64  `json:"counterparty_account_id,omitempty"`
	Vendor                string `json:"vendor,omitempty"`
	// IdempotencyKey makes a retried commit return the original receipt.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// Principal is the "<realm>:<id>" subject that committed the transaction.
	Principal string `json:"principal,omitempty"`
}

// Receipt is the processor's record of a completed transaction.
type Receipt struct {
	Confirmation string                     `json:"confirmation"`
	AccountID    int64                      `json:"account_id"`
	Type         capability.TransactionType `json:"type"`
	Amount       decimal.Decimal            `json:"amount"`
	ProcessedAt  time.Time                  `json:"processed_at"`
	Sequence     uint64                     `json:"sequence"` // monotonic sequence number
}

var ErrInsufficientFunds = errors.New("insufficient funds")
