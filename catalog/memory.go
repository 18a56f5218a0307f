/*
Package catalog provides in-memory implementations of the engine's
collaborator interfaces: course catalog, certificate registry, enrollment
service, and order lookup.

PURPOSE:
  The lifecycle engine only sees the narrow interfaces in
  entitlement/collaborators.go. This package backs them with registered
  fixture data, which is what the demo server runs on and what most tests
  use. Production deployments swap in clients for the real catalog,
  credential, and commerce services.
*/
package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/entitlement"
)

// =============================================================================
// COURSE CATALOG
// =============================================================================

// Run is one registered course run.
type Run struct {
	Key      entitlement.CourseRunKey
	CourseID uuid.UUID
	Start    time.Time

	// Fulfillable marks the run as a valid redemption target for
	// entitlements of its course (seats open, enrollment window open).
	Fulfillable bool
}

// Memory is an in-memory catalog, certificate registry, enrollment
// service, and order book.
type Memory struct {
	mu           sync.RWMutex
	runs         map[entitlement.CourseRunKey]Run
	certificates map[certKey]bool
	orders       map[string]order
	clock        entitlement.Clock

	// RejectEnrollment, when set, makes Enroll fail with the returned
	// reason. Used to exercise the failure path.
	RejectEnrollment func(user entitlement.UserID, runKey entitlement.CourseRunKey) (reason string, reject bool)
}

type certKey struct {
	User   entitlement.UserID
	Course uuid.UUID
}

type order struct {
	total    decimal.Decimal
	currency string
}

func NewMemory(clock entitlement.Clock) *Memory {
	if clock == nil {
		clock = entitlement.SystemClock{}
	}
	return &Memory{
		runs:         make(map[entitlement.CourseRunKey]Run),
		certificates: make(map[certKey]bool),
		orders:       make(map[string]order),
		clock:        clock,
	}
}

// AddRun registers a course run.
func (m *Memory) AddRun(r Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.Key] = r
}

// AddCertificate records a completion certificate for a user and course.
func (m *Memory) AddCertificate(user entitlement.UserID, courseID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.certificates[certKey{User: user, Course: courseID}] = true
}

// AddOrder registers an order total for refund quotes.
func (m *Memory) AddOrder(number string, total decimal.Decimal, currency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[number] = order{total: total, currency: currency}
}

// =============================================================================
// entitlement.CatalogLookup
// =============================================================================

func (m *Memory) ResolveCourseID(_ context.Context, runKey entitlement.CourseRunKey) (uuid.UUID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runKey]
	if !ok {
		return uuid.Nil, false, nil
	}
	return r.CourseID, true, nil
}

func (m *Memory) CourseStartDate(_ context.Context, runKey entitlement.CourseRunKey) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runKey]
	if !ok {
		return time.Time{}, &UnknownRunError{RunKey: runKey}
	}
	return r.Start, nil
}

func (m *Memory) IsRunFulfillableVariant(_ context.Context, runKey entitlement.CourseRunKey, e *entitlement.Entitlement) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runKey]
	return ok && r.Fulfillable && r.CourseID == e.CourseID
}

// =============================================================================
// entitlement.EnrollmentService
// =============================================================================

func (m *Memory) Enroll(_ context.Context, user entitlement.UserID, runKey entitlement.CourseRunKey, mode string) (*entitlement.Enrollment, error) {
	m.mu.RLock()
	r, ok := m.runs[runKey]
	reject := m.RejectEnrollment
	m.mu.RUnlock()

	if !ok {
		return nil, &entitlement.EnrollmentError{User: user, RunKey: runKey, Reason: "unknown course run"}
	}
	if reject != nil {
		if reason, rejected := reject(user, runKey); rejected {
			return nil, &entitlement.EnrollmentError{User: user, RunKey: runKey, Reason: reason}
		}
	}
	return &entitlement.Enrollment{
		RunKey:    runKey,
		CourseID:  r.CourseID,
		Mode:      mode,
		CreatedAt: m.clock.Now(),
	}, nil
}

// =============================================================================
// entitlement.CertificateLookup
// =============================================================================

func (m *Memory) HasCertificate(_ context.Context, user entitlement.UserID, courseID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.certificates[certKey{User: user, Course: courseID}]
}

// =============================================================================
// entitlement.OrderLookup
// =============================================================================

func (m *Memory) OrderTotal(_ context.Context, orderNumber string) (decimal.Decimal, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderNumber]
	if !ok {
		return decimal.Zero, "", &UnknownOrderError{Number: orderNumber}
	}
	return o.total, o.currency, nil
}

// =============================================================================
// ERRORS
// =============================================================================

type UnknownRunError struct {
	RunKey entitlement.CourseRunKey
}

func (e *UnknownRunError) Error() string { return "unknown course run: " + string(e.RunKey) }

type UnknownOrderError struct {
	Number string
}

func (e *UnknownOrderError) Error() string { return "unknown order: " + e.Number }

// Compile-time interface checks.
var (
	_ entitlement.CatalogLookup     = (*Memory)(nil)
	_ entitlement.EnrollmentService = (*Memory)(nil)
	_ entitlement.CertificateLookup = (*Memory)(nil)
	_ entitlement.OrderLookup       = (*Memory)(nil)
)
