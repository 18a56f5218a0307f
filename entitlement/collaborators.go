/*
collaborators.go - External collaborator interfaces

PURPOSE:
  The engine consumes four external systems through narrow interfaces:
  the course catalog, the enrollment service, the certificate registry,
  and an optional commerce order lookup. All are abstract so the core
  stays free of transport and persistence concerns.

FAILURE POSTURE:
  Predicates never surface collaborator errors. Missing catalog data is
  treated as "no fulfillable entitlement" and missing certificate or
  start-date data resolves conservatively (not regainable, not
  refundable). Only the enrollment call reports a typed error, and the
  directory recovers from it locally.

SEE ALSO:
  - catalog/: In-memory fixture implementations
  - directory.go: The only caller of EnrollmentService
*/
package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CatalogLookup resolves course runs against the course catalog.
type CatalogLookup interface {
	// ResolveCourseID maps a run key to the stable UUID of its parent
	// course. ok is false when the run is unknown to the catalog.
	ResolveCourseID(ctx context.Context, runKey CourseRunKey) (id uuid.UUID, ok bool, err error)

	// CourseStartDate returns the scheduled start of a run. The regain
	// window may be anchored on it.
	CourseStartDate(ctx context.Context, runKey CourseRunKey) (time.Time, error)

	// IsRunFulfillableVariant reports whether the run is a variant of the
	// entitlement's course that this entitlement may be fulfilled into
	// (seat availability, matching mode, enrollment dates).
	IsRunFulfillableVariant(ctx context.Context, runKey CourseRunKey, e *Entitlement) bool
}

// EnrollmentService creates enrollments on behalf of the directory. A
// business rejection is reported as *EnrollmentError; anything else is an
// infrastructure failure.
type EnrollmentService interface {
	Enroll(ctx context.Context, user UserID, runKey CourseRunKey, mode string) (*Enrollment, error)
}

// CertificateLookup answers whether a completion certificate has been
// issued for a user and course. A certified redemption is used up and can
// no longer be regained.
type CertificateLookup interface {
	HasCertificate(ctx context.Context, user UserID, courseID uuid.UUID) bool
}

// OrderLookup resolves the purchase total behind an order number. Backs
// the refund quote projection; refund execution itself stays external.
type OrderLookup interface {
	OrderTotal(ctx context.Context, orderNumber string) (amount decimal.Decimal, currency string, err error)
}
