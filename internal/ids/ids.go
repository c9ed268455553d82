package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const confirmationPrefix = "TXN-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier whose timestamp component is t.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Confirmation returns a customer-facing confirmation number for a processed transaction.
func Confirmation(t time.Time) string {
	return confirmationPrefix + NewAt(t)
}

// ConfirmationTime extracts the issue time from a confirmation number.
func ConfirmationTime(confirmation string) (time.Time, bool) {
	raw, ok := strings.CutPrefix(confirmation, confirmationPrefix)
	if !ok {
		return time.Time{}, false
	}
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
