package subscription

import "time"

// EntitlementState is the user-facing status derived from a subscription row.
type EntitlementState string

const (
	StateCancelledEntitled EntitlementState = "cancelled_entitled"
	StateActive            EntitlementState = "active"
	StateExpired           EntitlementState = "expired"
	StateInactive          EntitlementState = "inactive"
)

// Entitled reports whether the state still grants paid features.
func (s EntitlementState) Entitled() bool {
	return s == StateActive || s == StateCancelledEntitled
}

// Classify derives the entitlement state. It is pure and total: every input
// maps to exactly one state. The end date is inclusive. Expiry is evaluated
// lazily here, nothing flips is_active in the background.
func Classify(now time.Time, isActive bool, endDate time.Time, cancellationDate *time.Time) EntitlementState {
	switch {
	case !isActive:
		return StateInactive
	case now.After(endDate):
		return StateExpired
	case cancellationDate != nil:
		return StateCancelledEntitled
	default:
		return StateActive
	}
}
