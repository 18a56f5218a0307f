/*
directory.go - Query/selection layer and the redemption workflow

PURPOSE:
  Directory provides the "active", "fulfillable", and "redeem into run"
  operations over the set of entitlements for a user, and orchestrates the
  transactional redemption workflow against the enrollment collaborator.

ACTIVE vs FULFILLABLE:
  The two sets use asymmetric exclusions, preserved deliberately:

    active      = all EXCEPT (expired AND not redeemed)
    fulfillable = all EXCEPT (expired AND redeemed)

  An entitlement that was redeemed and later expired still shows up as
  active (display/history) but is no longer fulfillable. A never-redeemed
  entitlement stays in the fulfillable set past naive expiry; the final
  gate is IsRedeemable. The two filters are easy to conflate - don't.

REDEMPTION FLOW:
  CheckAndRedeem(user, run)
    -> FulfillableEntitlements(user)        skip catalog work when empty
    -> Catalog.ResolveCourseID(run)         fails closed on missing data
    -> match newest entitlement for course
    -> IsRunFulfillableVariant + IsRedeemable
    -> RedeemInto: WithTx { Enroll; BindEnrollment }

ERROR POSTURE:
  A rejected enrollment is an expected business outcome: it is logged with
  the entitlement UUID and reported as false, never propagated.

SEE ALSO:
  - engine.go: The predicates the directory delegates to
  - store.go: The mutation contract (expire once, bind once)
*/
package entitlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultExpiryAlertDays is the window, in days before expiry, inside
// which summaries carry an expiration warning date.
const DefaultExpiryAlertDays = 60

// Directory is the query/selection layer over a user's entitlements.
type Directory struct {
	Store       TxStore
	Engine      *PolicyEngine
	Enrollments EnrollmentService

	// Support is the append-only annotation log. Optional.
	Support SupportStore

	// Orders backs refund quotes. Optional; without it quotes carry a
	// zero amount.
	Orders OrderLookup

	// ExpiryAlertDays overrides DefaultExpiryAlertDays when positive.
	ExpiryAlertDays int

	Log logrus.FieldLogger
}

func (d *Directory) log() logrus.FieldLogger {
	if d.Log != nil {
		return d.Log
	}
	return logrus.StandardLogger()
}

func (d *Directory) alertDays() int {
	if d.ExpiryAlertDays > 0 {
		return d.ExpiryAlertDays
	}
	return DefaultExpiryAlertDays
}

// =============================================================================
// CREATION
// =============================================================================

// Create persists a new entitlement, stamping its UUID and creation time
// when unset. An attached policy is validated first; a misconfigured
// policy is fatal to the operation.
func (d *Directory) Create(ctx context.Context, e *Entitlement) error {
	if e.Policy != nil {
		if err := e.Policy.Validate(); err != nil {
			return err
		}
	}
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = d.Engine.Clock.Now()
	}
	return d.Store.Insert(ctx, e)
}

// =============================================================================
// QUERIES
// =============================================================================

// ActiveEntitlements returns the user's entitlements except those that
// expired without ever being redeemed. Newest first.
func (d *Directory) ActiveEntitlements(ctx context.Context, user UserID) ([]*Entitlement, error) {
	all, err := d.Store.ByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	var active []*Entitlement
	for _, e := range all {
		if e.Expired() && !e.Redeemed() {
			continue
		}
		active = append(active, e)
	}
	return active, nil
}

// ActiveEntitlementFor returns the most recently created active
// entitlement for the given course, or nil.
func (d *Directory) ActiveEntitlementFor(ctx context.Context, user UserID, courseID uuid.UUID) (*Entitlement, error) {
	active, err := d.ActiveEntitlements(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, e := range active {
		if e.CourseID == courseID {
			return e, nil
		}
	}
	return nil, nil
}

// UnexpiredEntitlements returns the user's entitlements whose expiration
// transition has not been recorded.
func (d *Directory) UnexpiredEntitlements(ctx context.Context, user UserID) ([]*Entitlement, error) {
	all, err := d.Store.ByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	var out []*Entitlement
	for _, e := range all {
		if e.Expired() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// FulfillableEntitlements returns the user's entitlements except those
// that were redeemed and then expired. Newest first. A not-yet-redeemed
// entitlement stays in this set even past naive expiry checks; final
// gating happens via IsRedeemable.
func (d *Directory) FulfillableEntitlements(ctx context.Context, user UserID) ([]*Entitlement, error) {
	all, err := d.Store.ByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	var out []*Entitlement
	for _, e := range all {
		if e.Expired() && e.Redeemed() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// FindFulfillableFor returns the entitlement a redemption of the given run
// should fulfill, or nil. The catalog is only consulted once the user is
// known to have fulfillable entitlements at all; missing catalog data
// fails closed.
func (d *Directory) FindFulfillableFor(ctx context.Context, user UserID, runKey CourseRunKey) (*Entitlement, error) {
	fulfillable, err := d.FulfillableEntitlements(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(fulfillable) == 0 {
		return nil, nil
	}

	courseID, ok, err := d.Engine.Catalog.ResolveCourseID(ctx, runKey)
	if err != nil || !ok {
		return nil, nil
	}

	for _, e := range fulfillable {
		if e.CourseID != courseID {
			continue
		}
		// Only the newest entitlement for the course is considered.
		if d.Engine.Catalog.IsRunFulfillableVariant(ctx, runKey, e) && d.Engine.IsRedeemable(e) {
			return e, nil
		}
		return nil, nil
	}
	return nil, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// RedeemInto enrolls the entitlement's owner in the given run and binds
// the resulting enrollment, atomically. A failed enrollment is logged and
// reported as false with no mutation.
func (d *Directory) RedeemInto(ctx context.Context, e *Entitlement, runKey CourseRunKey) bool {
	var enr *Enrollment
	err := d.Store.WithTx(ctx, func(s Store) error {
		created, err := d.Enrollments.Enroll(ctx, e.UserID, runKey, e.Mode)
		if err != nil {
			return err
		}
		if err := s.BindEnrollment(ctx, e.UUID, *created); err != nil {
			return err
		}
		enr = created
		return nil
	})
	if err != nil {
		entry := d.log().WithField("entitlement", e.UUID).WithError(err)
		if errors.Is(err, ErrEnrollmentRejected) {
			entry.Warn("unable to enroll, redemption not applied")
		} else {
			entry.Error("entitlement redemption failed")
		}
		return false
	}

	if bindErr := e.Redeem(*enr); bindErr != nil {
		// Store bind succeeded, so the in-memory copy was stale.
		d.log().WithField("entitlement", e.UUID).Warn("stale entitlement copy on redeem")
	}
	return true
}

// CheckAndRedeem looks for a fulfillable entitlement matching the run and
// redeems it. Returns false with no side effects when none exists.
func (d *Directory) CheckAndRedeem(ctx context.Context, user UserID, runKey CourseRunKey) bool {
	e, err := d.FindFulfillableFor(ctx, user, runKey)
	if err != nil || e == nil {
		return false
	}
	return d.RedeemInto(ctx, e, runKey)
}

// EvaluateExpiration records the expiration transition when it is due.
// Idempotent: once ExpiredAt is set, repeated calls never change it. Safe
// under concurrent callers - the store only writes while the column is
// still null, so the first writer wins.
func (d *Directory) EvaluateExpiration(ctx context.Context, e *Entitlement) error {
	if e.Expired() {
		return nil
	}
	if !d.Engine.ShouldExpire(ctx, e) {
		return nil
	}
	at := d.Engine.Clock.Now()
	if err := d.Store.MarkExpired(ctx, e.UUID, at); err != nil {
		return err
	}
	e.ExpiredAt = &at
	return nil
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// shortDate mirrors a locale short-date rendering.
const shortDate = "Jan 2, 2006"

// Summarize builds the presentation projection. Pure read: callers that
// want the expiration cache refreshed run EvaluateExpiration first.
func (d *Directory) Summarize(ctx context.Context, e *Entitlement) (Summary, error) {
	s := Summary{UUID: e.UUID, CourseID: e.CourseID, ExpiredAt: e.ExpiredAt}

	days, err := d.Engine.DaysUntilExpiration(ctx, e)
	if err != nil {
		return s, err
	}
	if days < d.alertDays() {
		s.ExpirationWarning = d.Engine.Clock.Now().AddDate(0, 0, days).Format(shortDate)
	}
	return s, nil
}

// RefundQuote reports refund eligibility together with the amount that
// would be refunded. Refund execution stays external; this is eligibility
// plus best-available order data.
type RefundQuote struct {
	Refundable bool
	Amount     decimal.Decimal
	Currency   string
}

// Refund builds the refund quote for an entitlement. An unavailable order
// lookup degrades to a zero amount rather than failing the quote.
func (d *Directory) Refund(ctx context.Context, e *Entitlement) RefundQuote {
	q := RefundQuote{Refundable: d.Engine.IsRefundable(ctx, e)}
	if !q.Refundable || d.Orders == nil {
		return q
	}
	amount, currency, err := d.Orders.OrderTotal(ctx, e.OrderNumber)
	if err != nil {
		d.log().WithField("entitlement", e.UUID).WithError(err).Warn("order lookup failed, quoting zero")
		return q
	}
	q.Amount = amount
	q.Currency = currency
	return q
}

// =============================================================================
// SUPPORT ANNOTATIONS
// =============================================================================

// Annotate appends a staff intervention record. Annotations are validated
// and stamped here; the lifecycle engine never reads them back.
func (d *Directory) Annotate(ctx context.Context, a SupportAnnotation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = d.Engine.Clock.Now()
	}
	return d.Support.AppendSupport(ctx, a)
}
