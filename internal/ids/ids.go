// Package ids mints the ULID identifiers used for token jti claims and
// request ids. ULIDs sort by creation time, which keeps audit trails and
// log correlation readable without a separate timestamp column.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh ULID. The shared entropy source is monotonic, so ids
// minted within the same millisecond still sort in issue order.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
