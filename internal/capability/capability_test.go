package capability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tellerline.org/internal/roles"
)

func TestResolveTable(t *testing.T) {
	F := Set{true, true, true}
	J := Set{CanTransact: true, CanPayLoan: true}
	N := Set{}

	want := map[roles.AccessRoleID]map[roles.AccountStatus]Set{
		roles.PrimaryOwner: {
			roles.StatusNew: N, roles.StatusActive: F, roles.StatusPending: N, roles.StatusInactive: N, roles.StatusDormant: N,
			roles.StatusClosed: N, roles.StatusSuspended: N, roles.StatusFrozen: N, roles.StatusRestricted: N, roles.StatusDenied: N,
		},
		roles.SecondaryOwner: {
			roles.StatusNew: N, roles.StatusActive: J, roles.StatusPending: N, roles.StatusInactive: N, roles.StatusDormant: N,
			roles.StatusClosed: N, roles.StatusSuspended: N, roles.StatusFrozen: N, roles.StatusRestricted: N, roles.StatusDenied: N,
		},
		roles.Beneficiary: {
			roles.StatusNew: N, roles.StatusActive: N, roles.StatusPending: N, roles.StatusInactive: N, roles.StatusDormant: N,
			roles.StatusClosed: N, roles.StatusSuspended: N, roles.StatusFrozen: N, roles.StatusRestricted: N, roles.StatusDenied: N,
		},
	}

	cases := 0
	for _, ar := range roles.AccessRoles() {
		for _, st := range roles.Statuses() {
			expected, ok := want[ar.ID][st]
			require.True(t, ok, "missing expectation for %s/%s", ar.ID, st)
			require.Equal(t, expected, Resolve(ar.ID, st), "%s/%s", ar.ID, st)
			// Pure: a second call gives the same answer.
			require.Equal(t, Resolve(ar.ID, st), Resolve(ar.ID, st))
			cases++
		}
	}
	require.Equal(t, 30, cases)
}

func TestResolveScenarios(t *testing.T) {
	require.Equal(t, Set{true, true, true}, Resolve(roles.PrimaryOwner, roles.StatusActive))
	require.Equal(t, Set{true, false, true}, Resolve(roles.SecondaryOwner, roles.StatusActive))
	require.Equal(t, Set{false, false, false}, Resolve(roles.Beneficiary, roles.StatusActive))
	require.Equal(t, Set{false, false, false}, Resolve(roles.PrimaryOwner, roles.StatusFrozen))
}

func TestResolveOutOfRangeDeniesEverything(t *testing.T) {
	require.False(t, Resolve(roles.AccessRoleID(0), roles.StatusActive).Any())
	require.False(t, Resolve(roles.PrimaryOwner, roles.AccountStatus(42)).Any())
}

func TestRequiredCapability(t *testing.T) {
	cases := map[TransactionType]Capability{
		Deposit:         Transact,
		Withdrawal:      Transact,
		Transfer:        Transact,
		BillPayment:     Transact,
		LoanApplication: ApplyLoan,
		LoanPayment:     PayLoan,
	}
	for _, tt := range TransactionTypes() {
		c, ok := tt.RequiredCapability()
		require.True(t, ok)
		require.Equal(t, cases[tt], c)
	}
	_, ok := TransactionType("mortgage").RequiredCapability()
	require.False(t, ok)
}

func TestAllows(t *testing.T) {
	s := Resolve(roles.SecondaryOwner, roles.StatusActive)
	require.True(t, s.Allows(Transact))
	require.False(t, s.Allows(ApplyLoan))
	require.True(t, s.Allows(PayLoan))
	require.False(t, s.Allows(Capability("canFly")))
}

func TestParseTransactionType(t *testing.T) {
	tt, err := ParseTransactionType(" Loan_Payment ")
	require.NoError(t, err)
	require.Equal(t, LoanPayment, tt)
	_, err = ParseTransactionType("wire")
	require.Error(t, err)
}
