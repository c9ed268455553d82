package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tellerline.org/internal/capability"
	"tellerline.org/internal/errs"
	"tellerline.org/internal/ids"
)

var fixedNow = time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

func newProcessor() *InMemory {
	return NewInMemory(func() time.Time { return fixedNow })
}

func TestTransferMovesFunds(t *testing.T) {
	s := newProcessor()
	s.Fund(1, decimal.RequireFromString("1000.00"))

	r, err := s.Process(context.Background(), Request{
		AccountID: 1, Type: capability.Transfer, Amount: decimal.RequireFromString("600.25"), CounterpartyAccountID: 2,
	})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("399.75").Equal(s.Balance(1)))
	require.True(t, decimal.RequireFromString("600.25").Equal(s.Balance(2)))

	issued, ok := ids.ConfirmationTime(r.Confirmation)
	require.True(t, ok)
	require.Equal(t, fixedNow.UnixMilli(), issued.UnixMilli())
	require.EqualValues(t, 1, r.Sequence)
}

func TestDepositAndLoanApplication(t *testing.T) {
	s := newProcessor()
	ctx := context.Background()
	_, err := s.Process(ctx, Request{AccountID: 7, Type: capability.Deposit, Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)
	_, err = s.Process(ctx, Request{AccountID: 7, Type: capability.LoanApplication, Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(50).Equal(s.Balance(7)))
}

func TestInsufficientFunds(t *testing.T) {
	s := newProcessor()
	s.Fund(1, decimal.NewFromInt(100))

	_, err := s.Process(context.Background(), Request{AccountID: 1, Type: capability.Withdrawal, Amount: decimal.NewFromInt(200)})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.Equal(t, errs.KindConflict, errs.KindOf(err))
	require.True(t, decimal.NewFromInt(100).Equal(s.Balance(1)))
}

func TestProcessValidation(t *testing.T) {
	s := newProcessor()
	ctx := context.Background()
	cases := map[string]Request{
		"zero amount":     {AccountID: 1, Type: capability.Deposit, Amount: decimal.Zero},
		"negative amount": {AccountID: 1, Type: capability.Deposit, Amount: decimal.NewFromInt(-1)},
		"unknown type":    {AccountID: 1, Type: "wire", Amount: decimal.NewFromInt(1)},
		"missing account": {Type: capability.Deposit, Amount: decimal.NewFromInt(1)},
		"self transfer":   {AccountID: 1, Type: capability.Transfer, Amount: decimal.NewFromInt(1), CounterpartyAccountID: 1},
		"bill w/o vendor": {AccountID: 1, Type: capability.BillPayment, Amount: decimal.NewFromInt(1)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Process(ctx, req)
			require.ErrorIs(t, err, errs.ErrValidation)
		})
	}
}

func TestIdempotency(t *testing.T) {
	s := newProcessor()
	s.Fund(1, decimal.NewFromInt(1000))
	req := Request{AccountID: 1, Type: capability.BillPayment, Amount: decimal.NewFromInt(100), Vendor: "power-co", IdempotencyKey: "same-key"}

	r1, err := s.Process(context.Background(), req)
	require.NoError(t, err)
	r2, err := s.Process(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.True(t, decimal.NewFromInt(900).Equal(s.Balance(1)))
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newProcessor().Process(ctx, Request{AccountID: 1, Type: capability.Deposit, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentWithdrawalsConserveFunds(t *testing.T) {
	s := newProcessor()
	s.Fund(1, decimal.NewFromInt(10000))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs = make(map[uint64]bool)
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := s.Process(context.Background(), Request{AccountID: 1, Type: capability.Transfer, Amount: decimal.NewFromInt(100), CounterpartyAccountID: 2})
			if err != nil {
				return
			}
			mu.Lock()
			seqs[r.Sequence] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.True(t, decimal.NewFromInt(10000).Equal(s.Balance(1).Add(s.Balance(2))))
	require.Len(t, seqs, 50)
	for seq := uint64(1); seq <= 50; seq++ {
		require.True(t, seqs[seq], "sequence %d", seq)
	}
}
