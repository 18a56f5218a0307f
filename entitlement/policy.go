/*
policy.go - Time-window policy configuration

PURPOSE:
  A Policy holds the three durations that govern an entitlement's
  lifecycle. Policies are configured per site and shared by many
  entitlements; the entitlement only reads them.

WINDOWS:
  ExpirationPeriod:
    - From creation until the entitlement can no longer be redeemed.
    - Default 450 days.

  RefundPeriod:
    - From creation until the purchase can no longer be refunded.
    - Default 60 days. The boundary day itself is still refundable.

  RegainPeriod:
    - After redemption, how long the learner may leave the run and regain
      the entitlement. Anchored on whichever milestone is most recent:
      course start, enrollment creation, or entitlement creation.
    - Default 14 days.

VALIDATION:
  Negative durations are a configuration error, detected when the policy
  is loaded or saved, and fatal to that policy's use.

SEE ALSO:
  - engine.go: The predicates that interpret these windows
*/
package entitlement

import (
	"fmt"
	"time"
)

// Documented policy defaults, in days.
const (
	DefaultExpirationPeriodDays = 450
	DefaultRefundPeriodDays     = 60
	DefaultRegainPeriodDays     = 14
)

// Policy is the configured set of time windows governing expiration, refund,
// and regain for a group of entitlements. Read-only from the entitlement's
// perspective.
type Policy struct {
	// ExpirationPeriod is the duration from creation until expiry.
	ExpirationPeriod time.Duration

	// RefundPeriod is the duration from creation until the purchase is no
	// longer refundable.
	RefundPeriod time.Duration

	// RegainPeriod is the duration after redemption during which the
	// entitlement can still be regained.
	RegainPeriod time.Duration

	// Site identifies the tenant this policy applies to. Empty on the
	// default policy.
	Site string
}

// DefaultPolicy returns the shared default configuration used when an
// entitlement has no policy attached.
func DefaultPolicy() Policy {
	return Policy{
		ExpirationPeriod: DefaultExpirationPeriodDays * day,
		RefundPeriod:     DefaultRefundPeriodDays * day,
		RegainPeriod:     DefaultRegainPeriodDays * day,
	}
}

// Validate rejects misconfigured policies. All three durations must be
// non-negative.
func (p Policy) Validate() error {
	if p.ExpirationPeriod < 0 {
		return &PolicyValidationError{Field: "expiration_period", Value: p.ExpirationPeriod}
	}
	if p.RefundPeriod < 0 {
		return &PolicyValidationError{Field: "refund_period", Value: p.RefundPeriod}
	}
	if p.RegainPeriod < 0 {
		return &PolicyValidationError{Field: "regain_period", Value: p.RegainPeriod}
	}
	return nil
}

// ExpirationDays returns the expiration window in whole days.
func (p Policy) ExpirationDays() int { return int(p.ExpirationPeriod / day) }

// RefundDays returns the refund window in whole days.
func (p Policy) RefundDays() int { return int(p.RefundPeriod / day) }

// RegainDays returns the regain window in whole days.
func (p Policy) RegainDays() int { return int(p.RegainPeriod / day) }

func (p Policy) String() string {
	return fmt.Sprintf("entitlement policy: expiration=%s refund=%s regain=%s site=%q",
		p.ExpirationPeriod, p.RefundPeriod, p.RegainPeriod, p.Site)
}
