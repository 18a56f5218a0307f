/*
store.go - Persistence interfaces for entitlement records

PURPOSE:
  Defines the interface between the lifecycle engine and the database.
  Mutations are deliberately narrow: records are inserted, expired once,
  and bound to an enrollment once. There is no general update and no
  delete; administrative deletion is an external concern.

MUTATION CONTRACT:
  - MarkExpired writes only if expired_at is still null. The transition is
    monotonic and idempotent, so concurrent callers racing to expire the
    same record are safe without locks.
  - BindEnrollment writes only if no run is bound yet and reports
    ErrAlreadyRedeemed otherwise. Re-redemption requires a new
    entitlement, not a rebind.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - entitlement/store: In-memory store for tests and dev

SEE ALSO:
  - directory.go: The only mutating caller
*/
package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists entitlement records.
//
// ByUser returns records ordered newest first; the directory's selection
// logic relies on that ordering. Lookups return (nil, nil) when the record
// does not exist.
type Store interface {
	// Insert persists a new entitlement.
	Insert(ctx context.Context, e *Entitlement) error

	// Get returns the entitlement with the given UUID, or nil.
	Get(ctx context.Context, id uuid.UUID) (*Entitlement, error)

	// ByUser returns all entitlements owned by the user, newest first.
	ByUser(ctx context.Context, user UserID) ([]*Entitlement, error)

	// MarkExpired records the expiration instant iff it is still unset.
	// Calling it on an already-expired record is a no-op.
	MarkExpired(ctx context.Context, id uuid.UUID, at time.Time) error

	// BindEnrollment attaches the redeemed run iff none is bound yet.
	// Returns ErrAlreadyRedeemed otherwise.
	BindEnrollment(ctx context.Context, id uuid.UUID, enr Enrollment) error
}

// TxStore wraps Store with a unit-of-work boundary. The redemption
// workflow requires enrollment creation and entitlement binding to commit
// together or not at all.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SupportStore persists support annotations. Append-only: annotations are
// immutable once created and never read by the lifecycle engine.
type SupportStore interface {
	AppendSupport(ctx context.Context, a SupportAnnotation) error
	SupportFor(ctx context.Context, entitlementID uuid.UUID) ([]SupportAnnotation, error)
}

// PolicyStore persists site policies, keyed by site.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p Policy) error
	PolicyForSite(ctx context.Context, site string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
}
