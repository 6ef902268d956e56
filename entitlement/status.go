package entitlement

import "time"

// Status is the authoritative in-process entitlement state. Exactly one
// value holds at any instant; it is owned by the Engine and mutated only
// through its re-evaluation funnel.
type Status string

const (
	StatusLoading     Status = "loading"
	StatusNotEntitled Status = "not_entitled"
	StatusEntitled    Status = "entitled"
	StatusExpired     Status = "expired"
	StatusRevoked     Status = "revoked"
	StatusGracePeriod Status = "grace_period"
	StatusPending     Status = "pending"
)

// Entitled reports whether the status grants paid-feature access.
// GracePeriod counts: it exists precisely so a stale local ledger does
// not lock a paying user out.
func (s Status) Entitled() bool {
	return s == StatusEntitled || s == StatusGracePeriod
}

// statusTransitions lists the expected moves. Loading is the initial
// state; there is no terminal state because every identity reset
// re-enters Loading. The engine treats an unexpected move as a bug to
// log, not a reason to refuse the write: re-evaluation is a full
// re-scan of current truth and last write wins.
var statusTransitions = map[Status][]Status{
	StatusLoading:     {StatusNotEntitled, StatusEntitled, StatusPending, StatusGracePeriod},
	StatusNotEntitled: {StatusEntitled, StatusPending, StatusGracePeriod, StatusLoading},
	StatusEntitled:    {StatusGracePeriod, StatusExpired, StatusRevoked, StatusNotEntitled, StatusLoading},
	StatusGracePeriod: {StatusEntitled, StatusNotEntitled, StatusLoading},
	StatusExpired:     {StatusNotEntitled, StatusEntitled, StatusLoading},
	StatusRevoked:     {StatusNotEntitled, StatusEntitled, StatusLoading},
	StatusPending:     {StatusEntitled, StatusNotEntitled, StatusLoading},
}

// CanTransition reports whether from→to is an expected move.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Snapshot is the consistent, observable pair of status and expiration.
// Readers always get both fields from the same transition.
type Snapshot struct {
	Status         Status
	ExpirationDate *time.Time
}

// Entitled is a convenience mirror of Snapshot.Status.Entitled().
func (s Snapshot) Entitled() bool { return s.Status.Entitled() }
