package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	require.Len(t, a, 26)
	require.Less(t, a, b)
}

func TestConfirmationRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	c := Confirmation(at)
	require.Regexp(t, `^TXN-[0-9A-Z]{26}$`, c)

	got, ok := ConfirmationTime(c)
	require.True(t, ok)
	require.True(t, got.Equal(at))

	_, ok = ConfirmationTime("REF-" + New())
	require.False(t, ok)
	_, ok = ConfirmationTime("TXN-not-a-ulid")
	require.False(t, ok)
}
