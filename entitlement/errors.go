/*
errors.go - Centralized error types for the entitlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Precondition violations - caller bugs (double redeem)
  2. Enrollment failures - expected business rejections, recovered locally
  3. Configuration errors - invalid policies, fatal at load time

USAGE:
  if errors.Is(err, entitlement.ErrEnrollmentRejected) {
      // expected outcome, report "unable to enroll"
  }
*/
package entitlement

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyRedeemed is returned when a caller tries to bind a run to
	// an entitlement that already has one. Binding happens at most once.
	ErrAlreadyRedeemed = errors.New("entitlement already redeemed")

	// ErrEnrollmentRejected is the sentinel wrapped by EnrollmentError.
	// A rejected redemption is an expected, non-fatal business outcome.
	ErrEnrollmentRejected = errors.New("enrollment rejected")

	// ErrInvalidPolicy wraps policy misconfiguration.
	ErrInvalidPolicy = errors.New("invalid entitlement policy")

	// ErrInvalidSupportAction is returned for actions outside the fixed
	// support-action enumeration.
	ErrInvalidSupportAction = errors.New("invalid support action")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// EnrollmentError is the typed failure reported by the enrollment
// collaborator when it rejects a redemption (capacity, run-level
// eligibility). It is caught by the directory, logged, and reported as a
// false redemption result, never propagated as a crash.
type EnrollmentError struct {
	User   UserID
	RunKey CourseRunKey
	Reason string
}

func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("enrollment rejected for user %s in run %s: %s", e.User, e.RunKey, e.Reason)
}

func (e *EnrollmentError) Unwrap() error { return ErrEnrollmentRejected }

// PolicyValidationError reports a negative duration in a policy.
type PolicyValidationError struct {
	Field string
	Value time.Duration
}

func (e *PolicyValidationError) Error() string {
	return fmt.Sprintf("invalid entitlement policy: %s must be non-negative, got %s", e.Field, e.Value)
}

func (e *PolicyValidationError) Unwrap() error { return ErrInvalidPolicy }
