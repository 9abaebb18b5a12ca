package verification

import "time"

// Level is a bit-field of independently grantable verification gates.
// "Verified" means the configured minimum mask is a subset of the user's
// current mask, so new gates can be added without migrating stored data.
type Level uint32

// LevelEmail is the email-ownership gate.
const LevelEmail Level = 1

// Includes reports whether every bit of want is present in l.
func (l Level) Includes(want Level) bool {
	return l&want == want
}

// Bypass is the three-way outcome of the role check preceding any bitmask
// inspection: grant without looking at bits, deny as a hard stop, or no
// opinion (fall through to the bitmask).
type Bypass int

const (
	BypassNone Bypass = iota
	BypassGrant
	BypassDeny
)

// Account is the slice of the user record the gate reads and mutates:
// the verification mask plus the pending single-use email secret.
type Account struct {
	ID               int64
	Email            string
	FirstName        string
	LastName         string
	Role             string
	Verified         Level
	PendingEmailHash *string
	CreatedAt        time.Time
}
