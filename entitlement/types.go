/*
Package entitlement provides the core entitlement lifecycle engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking a
  learner's right to redeem a purchased seat in a course, independent of
  any specific scheduled run of that course. The engine computes derived
  state (redeemable, fulfilled, expired, regainable, refundable) on demand
  from policy time windows rather than storing an explicit status field.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entitlement: The owned record binding a user to a course seat
  - Enrollment: A redeemed seat in one specific course run
  - UserID / CourseRunKey: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Derived state: No status enum. Redeemed = enrollment bound,
     expired = expired-at set, everything else is computed from windows.
  2. Monotonic transitions: ExpiredAt moves null -> timestamp, never back.
     Enrollment moves nil -> value at most once.
  3. Explicit policy fallback: A missing policy resolves to the shared
     default policy at read time, never via nil checks at call sites.

USAGE:
  e := entitlement.New(user, courseID, entitlement.ModeVerified)
  if engine.IsRedeemable(e) {
      // offer the run picker
  }

SEE ALSO:
  - policy.go: Time-window configuration and defaults
  - engine.go: The four derived-state predicates
  - directory.go: Query/selection layer and the redemption workflow
*/
package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies the learner who owns an entitlement.
type UserID string

// CourseRunKey identifies one scheduled run of a course. The course itself
// is identified by a stable UUID, independent of any run.
type CourseRunKey string

// Enrollment modes applied when an entitlement is redeemed.
const (
	ModeAudit        = "audit"
	ModeVerified     = "verified"
	ModeProfessional = "professional"
	ModeNoIDVerified = "no-id-professional"
)

// =============================================================================
// ENROLLMENT - A redeemed seat in a specific course run
// =============================================================================

// Enrollment is the record produced by the enrollment collaborator when an
// entitlement is redeemed into a concrete course run.
type Enrollment struct {
	RunKey    CourseRunKey
	CourseID  uuid.UUID
	Mode      string
	CreatedAt time.Time
}

// =============================================================================
// ENTITLEMENT - The owned right to a course seat
// =============================================================================

// Entitlement represents a learner's right to redeem a seat in some run of
// a course. Until redeemed, it is bound to the course, not to a run.
type Entitlement struct {
	UUID     uuid.UUID
	UserID   UserID
	CourseID uuid.UUID

	// Mode is the enrollment mode applied when the entitlement is redeemed.
	Mode string

	// Enrollment is the bound course run. Nil means not yet redeemed.
	Enrollment *Enrollment

	// OrderNumber references the commerce order that purchased this
	// entitlement. Empty means it was granted, not purchased, and is
	// therefore never refundable.
	OrderNumber string

	// ExpiredAt is authoritative once set: a cached, monotonic fact.
	// Nil means the entitlement has not expired.
	ExpiredAt *time.Time

	// CreatedAt is immutable after creation. All policy windows are
	// anchored on it.
	CreatedAt time.Time

	// Policy is the attached site policy. Nil falls back to the shared
	// default policy; use EffectivePolicy, never read this directly.
	Policy *Policy
}

// New creates an unredeemed, unexpired entitlement. CreatedAt is stamped by
// the caller's store on insert if left zero.
func New(user UserID, courseID uuid.UUID, mode string) *Entitlement {
	return &Entitlement{
		UUID:     uuid.New(),
		UserID:   user,
		CourseID: courseID,
		Mode:     mode,
	}
}

// EffectivePolicy resolves the attached policy, falling back to the shared
// default when none is attached. Never returns a zero policy.
func (e *Entitlement) EffectivePolicy() Policy {
	if e.Policy != nil {
		return *e.Policy
	}
	return DefaultPolicy()
}

// Redeemed reports whether the entitlement has been bound to a course run.
func (e *Entitlement) Redeemed() bool {
	return e.Enrollment != nil
}

// Expired reports whether the expiration transition has been recorded.
// This reads the cached fact only; EvaluateExpiration on the directory is
// the single operation that may set it.
func (e *Entitlement) Expired() bool {
	return e.ExpiredAt != nil
}

// Purchased reports whether the entitlement came from a commerce order.
func (e *Entitlement) Purchased() bool {
	return e.OrderNumber != ""
}

// DaysSinceCreated returns whole days elapsed since creation. An entitlement
// created today returns 0.
func (e *Entitlement) DaysSinceCreated(now time.Time) int {
	return DaysBetween(e.CreatedAt, now)
}

// Redeem binds the entitlement to an enrollment. The caller must have
// verified redeemability first: binding and deciding are separate
// responsibilities. Returns ErrAlreadyRedeemed if a run is already bound.
func (e *Entitlement) Redeem(enr Enrollment) error {
	if e.Enrollment != nil {
		return ErrAlreadyRedeemed
	}
	e.Enrollment = &enr
	return nil
}

// =============================================================================
// SUMMARY - Read-only projection for presentation layers
// =============================================================================

// Summary is the entitlement projection consumed by presentation layers.
// ExpirationWarning is only populated when the entitlement is inside the
// configured alert window.
type Summary struct {
	UUID              uuid.UUID
	CourseID          uuid.UUID
	ExpiredAt         *time.Time
	ExpirationWarning string // short date, empty outside the alert window
}
