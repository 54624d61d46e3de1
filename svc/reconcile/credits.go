package reconcile

import (
	"time"

	"github.com/dmitrymomot/omnibill/svc/billing"
)

type creditOutcome int

const (
	creditsKept creditOutcome = iota
	creditsReset
	creditsRevoked
)

// nextCredits applies the credit rule to an existing license.
//
// A non-active status revokes everything. An active status resets to the
// full limit on renewal, which is a period end strictly later than the stored
// expiry, or when forced. Anything else keeps the balance, clamped to the
// current limit.
func nextCredits(status billing.Status, limit, remains int64, storedExpiry, newEnd *time.Time, force bool) (int64, creditOutcome) {
	if status != billing.StatusActive {
		return 0, creditsRevoked
	}
	if force || isRenewal(storedExpiry, newEnd) {
		return limit, creditsReset
	}
	return min(max(remains, 0), limit), creditsKept
}

func isRenewal(storedExpiry, newEnd *time.Time) bool {
	if newEnd == nil {
		return false
	}
	return storedExpiry == nil || newEnd.After(*storedExpiry)
}

// initialCredits is the balance of a freshly inserted license.
func initialCredits(status billing.Status, limit int64) int64 {
	if status != billing.StatusActive {
		return 0
	}
	return limit
}
