package errs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"validation", Validationf("bad role %d", 9), KindValidation},
		{"not found", NotFoundf("link"), KindNotFound},
		{"conflict", Conflictf("duplicate"), KindConflict},
		{"denied", Denied("SelectAccount", "account %d not linked", 4), KindPermissionDenied},
		{"state", &StateError{Op: "CommitTransaction", State: "AccountSelected"}, KindInvalidStateTransition},
		{"wrapped state", Wrapf(&StateError{Op: "Login", State: "LoggedOut"}, "session %s", "abc"), KindInvalidStateTransition},
		{"integrity", Wrapf(ErrIntegrityViolation, "email in 2 realms"), KindIntegrityViolation},
		{"credentials", ErrInvalidCredentials, KindInvalidCredentials},
		{"driver fault", context.DeadlineExceeded, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestStateErrorMessage(t *testing.T) {
	err := error(&StateError{Op: "BeginTransaction", State: "TransactionInProgress"})
	require.EqualError(t, err, "BeginTransaction not permitted in state TransactionInProgress")
	require.True(t, errors.Is(err, ErrInvalidStateTransition))

	var se *StateError
	require.True(t, errors.As(Wrapf(err, "scope %q", "view"), &se))
	require.Equal(t, "BeginTransaction", se.Op)
}

func TestWrapfNil(t *testing.T) {
	require.NoError(t, Wrapf(nil, "ignored"))
}
