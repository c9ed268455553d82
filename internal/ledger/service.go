package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tellerline.org/internal/capability"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/ids"
)

// Processor is the transaction-processing collaborator behind CommitTransaction.
type Processor interface {
	Process(ctx context.Context, req Request) (Receipt, error)
}

var _ Processor = (*InMemory)(nil)

// InMemory processes transactions against in-process balances.
type InMemory struct {
	mu       sync.RWMutex
	balances map[int64]decimal.Decimal
	seq      uint64
	idem     map[string]Receipt // idemKey -> receipt
	now      func() time.Time
}

// NewInMemory creates an empty processor. now may be nil.
func NewInMemory(now func() time.Time) *InMemory {
	if now == nil {
		now = time.Now
	}
	return &InMemory{
		balances: make(map[int64]decimal.Decimal),
		idem:     make(map[string]Receipt),
		now:      now,
	}
}

// Fund sets an opening balance.
func (s *InMemory) Fund(accountID int64, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[accountID] = amount
}

func (s *InMemory) Balance(accountID int64) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[accountID]
}

func validate(req Request) error {
	if req.AccountID <= 0 {
		return errs.Validationf("account id must be positive")
	}
	if _, ok := req.Type.RequiredCapability(); !ok {
		return errs.Validationf("unknown transaction type %q", req.Type)
	}
	if !req.Amount.IsPositive() {
		return errs.Validationf("amount must be greater than zero")
	}
	switch req.Type {
	case capability.Transfer:
		if req.CounterpartyAccountID <= 0 || req.CounterpartyAccountID == req.AccountID {
			return errs.Validationf("transfer needs a distinct counterparty account")
		}
	case capability.BillPayment:
		if req.Vendor == "" {
			return errs.Validationf("bill payment needs a vendor")
		}
	}
	return nil
}

func (s *InMemory) Process(ctx context.Context, req Request) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if err := validate(req); err != nil {
		return Receipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if r, ok := s.idem[req.IdempotencyKey]; ok {
			return r, nil
		}
	}

	bal := s.balances[req.AccountID]
	switch req.Type {
	case capability.Deposit:
		s.balances[req.AccountID] = bal.Add(req.Amount)
	case capability.LoanApplication:
		// Recorded for underwriting; no funds move.
	default:
		if bal.LessThan(req.Amount) {
			return Receipt{}, fmt.Errorf("%w: %w", errs.ErrConflict, ErrInsufficientFunds)
		}
		s.balances[req.AccountID] = bal.Sub(req.Amount)
		if req.Type == capability.Transfer {
			s.balances[req.CounterpartyAccountID] = s.balances[req.CounterpartyAccountID].Add(req.Amount)
		}
	}

	now := s.now().UTC()
	s.seq++
	r := Receipt{
		Confirmation: ids.Confirmation(now),
		AccountID:    req.AccountID,
		Type:         req.Type,
		Amount:       req.Amount,
		ProcessedAt:  now,
		Sequence:     s.seq,
	}
	if req.IdempotencyKey != "" {
		s.idem[req.IdempotencyKey] = r
	}
	return r, nil
}
