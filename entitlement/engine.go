/*
engine.go - Derived-state predicates

PURPOSE:
  PolicyEngine computes the four derived states of an entitlement from its
  effective policy and the external clocks involved: purchase time,
  course-run start time, and enrollment time. All computations are reads;
  the single state transition (recording expiration) lives on Directory.

THE REGAIN RULE:
  Regaining a used entitlement must track whichever milestone is most
  recent, since any of course start, enrollment, or purchase may
  legitimately gate the regain window. Taking the minimum elapsed-day
  count selects the most recent milestone; the final expiration is then
  whichever constraint (absolute expiration vs regain window) binds first.

BOUNDARY CONVENTIONS:
  - DaysUntilExpiration of 0 means the expiry day has not fully passed:
    the entitlement is still active (inclusive >= 0 checks).
  - DaysSinceCreated equal to the refund period means the window has
    passed that many days: still refundable (strict > check).
  - DaysSinceCreated equal to the expiration period means expired:
    no longer redeemable (strict < check).
*/
package entitlement

import "context"

// PolicyEngine evaluates an entitlement's derived state. It holds the
// external collaborators the time windows depend on.
type PolicyEngine struct {
	Catalog      CatalogLookup
	Certificates CertificateLookup
	Clock        Clock
}

// NewPolicyEngine wires an engine with the system clock unless one is given.
func NewPolicyEngine(catalog CatalogLookup, certs CertificateLookup, clock Clock) *PolicyEngine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &PolicyEngine{Catalog: catalog, Certificates: certs, Clock: clock}
}

// DaysUntilExpiration returns the number of whole days until the
// entitlement expires under its effective policy, including the regain
// logic for redeemed entitlements. Negative means already past expiry.
//
// The only error source is the catalog lookup for a redeemed entitlement's
// course start; unredeemed entitlements never fail.
func (pe *PolicyEngine) DaysUntilExpiration(ctx context.Context, e *Entitlement) (int, error) {
	policy := e.EffectivePolicy()
	now := pe.Clock.Now()

	expiry := e.CreatedAt.Add(policy.ExpirationPeriod)
	baseDays := DaysUntil(expiry, now)
	if e.Enrollment == nil {
		return baseDays, nil
	}

	courseStart, err := pe.Catalog.CourseStartDate(ctx, e.Enrollment.RunKey)
	if err != nil {
		return 0, err
	}

	// The smallest elapsed count belongs to the most recent milestone;
	// that is the one the regain window is anchored on.
	sinceCourseStart := DaysBetween(courseStart, now)
	sinceEnrollment := DaysBetween(e.Enrollment.CreatedAt, now)
	sinceCreated := DaysBetween(e.CreatedAt, now)

	regainDaysLeft := policy.RegainDays() - min3(sinceCourseStart, sinceEnrollment, sinceCreated)

	if baseDays < regainDaysLeft {
		return baseDays, nil
	}
	return regainDaysLeft, nil
}

// IsRegainable reports whether the learner could leave the bound run and
// regain the entitlement. Only a redeemed, unexpired, uncertified
// entitlement inside its regain window qualifies. Collaborator failures
// resolve conservatively to false.
func (pe *PolicyEngine) IsRegainable(ctx context.Context, e *Entitlement) bool {
	if e.Expired() {
		return false
	}
	if e.Enrollment == nil {
		// Regain only applies to something that was redeemed.
		return false
	}
	if pe.Certificates.HasCertificate(ctx, e.UserID, e.Enrollment.CourseID) {
		// The redemption is used up once certified.
		return false
	}

	days, err := pe.DaysUntilExpiration(ctx, e)
	if err != nil {
		return false
	}
	// Zero is inclusive: the expiry day itself still counts as active.
	return days >= 0
}

// IsRefundable reports whether the purchase behind the entitlement can
// still be refunded. After redemption the refund window is governed
// entirely by the regain rule, not a separate clock.
func (pe *PolicyEngine) IsRefundable(ctx context.Context, e *Entitlement) bool {
	if e.Expired() {
		return false
	}
	if !e.Purchased() {
		// Nothing was purchased, nothing to refund.
		return false
	}
	if e.DaysSinceCreated(pe.Clock.Now()) > e.EffectivePolicy().RefundDays() {
		return false
	}
	if e.Enrollment != nil {
		return pe.IsRegainable(ctx, e)
	}
	return true
}

// IsRedeemable reports whether the entitlement can be bound to a run:
// inside the expiration window, not yet redeemed, not expired.
func (pe *PolicyEngine) IsRedeemable(e *Entitlement) bool {
	return e.DaysSinceCreated(pe.Clock.Now()) < e.EffectivePolicy().ExpirationDays() &&
		e.Enrollment == nil &&
		!e.Expired()
}

// ShouldExpire reports whether the expiration transition is due: the
// window has fully passed, or a redeemed entitlement can no longer be
// regained. Catalog failures resolve to false; we never expire a record on
// missing data.
func (pe *PolicyEngine) ShouldExpire(ctx context.Context, e *Entitlement) bool {
	if e.Expired() {
		return false
	}
	days, err := pe.DaysUntilExpiration(ctx, e)
	if err != nil {
		return false
	}
	if days < 0 {
		return true
	}
	return e.Enrollment != nil && !pe.IsRegainable(ctx, e)
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
