// Package store provides an in-memory Store implementation for tests/dev.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/entitlement-engine/entitlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	entitlements map[uuid.UUID]*entitlement.Entitlement
	support      map[uuid.UUID][]entitlement.SupportAnnotation
	policies     map[string]entitlement.Policy
}

func NewMemory() *Memory {
	return &Memory{
		entitlements: make(map[uuid.UUID]*entitlement.Entitlement),
		support:      make(map[uuid.UUID][]entitlement.SupportAnnotation),
		policies:     make(map[string]entitlement.Policy),
	}
}

// clone returns a deep copy so callers never alias stored state.
func clone(e *entitlement.Entitlement) *entitlement.Entitlement {
	cp := *e
	if e.Enrollment != nil {
		enr := *e.Enrollment
		cp.Enrollment = &enr
	}
	if e.ExpiredAt != nil {
		at := *e.ExpiredAt
		cp.ExpiredAt = &at
	}
	if e.Policy != nil {
		p := *e.Policy
		cp.Policy = &p
	}
	return &cp
}

func (m *Memory) Insert(_ context.Context, e *entitlement.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entitlements[e.UUID] = clone(e)
	return nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*entitlement.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entitlements[id]
	if !ok {
		return nil, nil
	}
	return clone(e), nil
}

func (m *Memory) ByUser(_ context.Context, user entitlement.UserID) ([]*entitlement.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*entitlement.Entitlement
	for _, e := range m.entitlements {
		if e.UserID == user {
			out = append(out, clone(e))
		}
	}
	// Newest first; the directory's selection logic relies on this.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) MarkExpired(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markExpiredLocked(id, at)
}

func (m *Memory) markExpiredLocked(id uuid.UUID, at time.Time) error {
	e, ok := m.entitlements[id]
	if !ok || e.ExpiredAt != nil {
		// Missing or already expired: monotonic no-op.
		return nil
	}
	stamp := at
	e.ExpiredAt = &stamp
	return nil
}

func (m *Memory) BindEnrollment(_ context.Context, id uuid.UUID, enr entitlement.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bindLocked(id, enr)
}

func (m *Memory) bindLocked(id uuid.UUID, enr entitlement.Enrollment) error {
	e, ok := m.entitlements[id]
	if !ok {
		return nil
	}
	if e.Enrollment != nil {
		return entitlement.ErrAlreadyRedeemed
	}
	e.Enrollment = &enr
	return nil
}

// =============================================================================
// SUPPORT ANNOTATIONS (append-only)
// =============================================================================

func (m *Memory) AppendSupport(_ context.Context, a entitlement.SupportAnnotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.support[a.EntitlementID] = append(m.support[a.EntitlementID], a)
	return nil
}

func (m *Memory) SupportFor(_ context.Context, entitlementID uuid.UUID) ([]entitlement.SupportAnnotation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entitlement.SupportAnnotation, len(m.support[entitlementID]))
	copy(out, m.support[entitlementID])
	return out, nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) SavePolicy(_ context.Context, p entitlement.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.Site] = p
	return nil
}

func (m *Memory) PolicyForSite(_ context.Context, site string) (*entitlement.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[site]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPolicies(_ context.Context) ([]entitlement.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entitlement.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction, simulated with a snapshot and
// rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(entitlement.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	if err := fn(&txView{parent: m}); err != nil {
		m.entitlements = snapshot
		return err
	}
	return nil
}

func (m *Memory) snapshotLocked() map[uuid.UUID]*entitlement.Entitlement {
	cp := make(map[uuid.UUID]*entitlement.Entitlement, len(m.entitlements))
	for id, e := range m.entitlements {
		cp[id] = clone(e)
	}
	return cp
}

// txView gives the transaction body access to the already-locked parent.
type txView struct {
	parent *Memory
}

func (tv *txView) Insert(_ context.Context, e *entitlement.Entitlement) error {
	tv.parent.entitlements[e.UUID] = clone(e)
	return nil
}

func (tv *txView) Get(_ context.Context, id uuid.UUID) (*entitlement.Entitlement, error) {
	e, ok := tv.parent.entitlements[id]
	if !ok {
		return nil, nil
	}
	return clone(e), nil
}

func (tv *txView) ByUser(_ context.Context, user entitlement.UserID) ([]*entitlement.Entitlement, error) {
	var out []*entitlement.Entitlement
	for _, e := range tv.parent.entitlements {
		if e.UserID == user {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (tv *txView) MarkExpired(_ context.Context, id uuid.UUID, at time.Time) error {
	return tv.parent.markExpiredLocked(id, at)
}

func (tv *txView) BindEnrollment(_ context.Context, id uuid.UUID, enr entitlement.Enrollment) error {
	return tv.parent.bindLocked(id, enr)
}

// Compile-time interface checks.
var (
	_ entitlement.TxStore      = (*Memory)(nil)
	_ entitlement.SupportStore = (*Memory)(nil)
	_ entitlement.PolicyStore  = (*Memory)(nil)
)
