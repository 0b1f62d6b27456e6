// internal/membership/errors.go
package membership

import "errors"

// Every failure surfaced by the Service maps onto one of these sentinels so
// callers can branch with errors.Is instead of matching message strings.
var (
	// ErrMembershipNotFound is returned when a user has no active membership.
	ErrMembershipNotFound = errors.New("no active membership found")

	// ErrPlanNotFound is returned when a referenced plan does not exist.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrTierNotFound is returned when a referenced tier does not exist.
	ErrTierNotFound = errors.New("tier not found")

	// ErrAlreadyActive is returned by Subscribe when the user already holds a
	// membership in ACTIVE or PENDING_PAYMENT.
	ErrAlreadyActive = errors.New("user already has an active membership")

	// ErrInvalidOperation is returned for wrong-direction tier changes.
	ErrInvalidOperation = errors.New("invalid membership operation")

	// ErrPaymentFailed is returned when the payment gateway declines or the
	// payment round-trip times out.
	ErrPaymentFailed = errors.New("payment processing failed")

	// ErrPaymentUnavailable is returned when the gateway cannot be reached at
	// all, e.g. its circuit breaker is open. Distinct from ErrPaymentFailed so
	// callers can tell an outage from a declined card.
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")

	// ErrConflict is returned when an optimistic-concurrency revision check
	// fails. The lifecycle manager retries these locally before giving up.
	ErrConflict = errors.New("concurrency conflict: revision mismatch")

	// ErrNoActiveTiers means the tier catalog is misconfigured: evaluation
	// cannot run without at least one active tier. Never retried.
	ErrNoActiveTiers = errors.New("no active tiers configured")
)
