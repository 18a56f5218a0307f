/*
support.go - Support annotations

PURPOSE:
  An append-only record of staff interventions on an entitlement. Pure
  logging collaborator: annotations are written when support staff
  re-issue or create entitlements, and are never read by the lifecycle
  engine itself.
*/
package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// SupportAction is the fixed enumeration of staff interventions.
type SupportAction string

const (
	// SupportReissue records a re-issued entitlement.
	SupportReissue SupportAction = "REISSUE"
	// SupportCreate records a newly created entitlement.
	SupportCreate SupportAction = "CREATE"
)

// Valid reports whether the action is part of the enumeration.
func (a SupportAction) Valid() bool {
	return a == SupportReissue || a == SupportCreate
}

// ListSupportActions returns the action codes, for serialization to
// support tooling.
func ListSupportActions() []SupportAction {
	return []SupportAction{SupportReissue, SupportCreate}
}

// SupportAnnotation records one staff intervention on an entitlement.
// Immutable once created.
type SupportAnnotation struct {
	ID            uuid.UUID
	EntitlementID uuid.UUID
	SupportUser   UserID
	Action        SupportAction
	Comments      string

	// UnenrolledRun is the run the learner was removed from, when the
	// intervention involved leaving a session.
	UnenrolledRun CourseRunKey

	CreatedAt time.Time
}

// Validate rejects annotations outside the action enumeration or missing
// their entitlement reference.
func (a SupportAnnotation) Validate() error {
	if !a.Action.Valid() {
		return ErrInvalidSupportAction
	}
	return nil
}
