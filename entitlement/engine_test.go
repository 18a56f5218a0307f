package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/entitlement"
)

// =============================================================================
// TEST HELPERS
// =============================================================================
// Shared by engine_test.go and directory_test.go.

// testClock is a mutable fixed clock.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advanceDays(n int) { c.now = c.now.AddDate(0, 0, n) }

var t0 = time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)

const dayDur = 24 * time.Hour

// world bundles an engine with its fixture collaborators.
type world struct {
	clock  *testClock
	collab *catalog.Memory
	engine *entitlement.PolicyEngine
}

func newWorld() *world {
	clock := &testClock{now: t0}
	collab := catalog.NewMemory(clock)
	return &world{
		clock:  clock,
		collab: collab,
		engine: entitlement.NewPolicyEngine(collab, collab, clock),
	}
}

// purchased returns an unredeemed entitlement created at t0 with an order.
func purchased(user entitlement.UserID, courseID uuid.UUID) *entitlement.Entitlement {
	e := entitlement.New(user, courseID, entitlement.ModeVerified)
	e.OrderNumber = "ORD-100042"
	e.CreatedAt = t0
	return e
}

// redeemInto binds the entitlement to a run registered in the catalog,
// with course start and enrollment both at the given instant.
func (w *world) redeemInto(e *entitlement.Entitlement, runKey entitlement.CourseRunKey, at time.Time) {
	w.collab.AddRun(catalog.Run{Key: runKey, CourseID: e.CourseID, Start: at, Fulfillable: true})
	e.Enrollment = &entitlement.Enrollment{
		RunKey:    runKey,
		CourseID:  e.CourseID,
		Mode:      e.Mode,
		CreatedAt: at,
	}
}

// =============================================================================
// REDEEMABILITY
// =============================================================================

func TestIsRedeemable_ExpirationBoundary(t *testing.T) {
	// GIVEN: An unredeemed entitlement created at T0 under the default policy
	// THEN: Redeemable until T0+450d, not redeemable at/after

	w := newWorld()
	e := purchased("u-1", uuid.New())

	w.clock.now = t0
	assert.True(t, w.engine.IsRedeemable(e), "redeemable on creation day")

	w.clock.now = t0.Add(450*dayDur - time.Hour)
	assert.True(t, w.engine.IsRedeemable(e), "redeemable just before the window closes")

	w.clock.now = t0.Add(450 * dayDur)
	assert.False(t, w.engine.IsRedeemable(e), "not redeemable once the window has passed")
}

func TestIsRedeemable_ImpliesUnredeemedAndUnexpired(t *testing.T) {
	w := newWorld()

	redeemed := purchased("u-1", uuid.New())
	w.redeemInto(redeemed, "course-v1:run+1T2026", t0)
	assert.False(t, w.engine.IsRedeemable(redeemed), "a redeemed entitlement is not redeemable")

	expired := purchased("u-1", uuid.New())
	at := t0.Add(dayDur)
	expired.ExpiredAt = &at
	assert.False(t, w.engine.IsRedeemable(expired), "an expired entitlement is not redeemable")
}

// =============================================================================
// REFUNDABILITY
// =============================================================================

func TestIsRefundable_RefundBoundaryInclusive(t *testing.T) {
	// GIVEN: An unredeemed purchased entitlement created at T0
	// THEN: Refundable at T0+60d (boundary day), not at T0+61d

	w := newWorld()
	ctx := context.Background()
	e := purchased("u-1", uuid.New())

	w.clock.now = t0.Add(60 * dayDur)
	assert.True(t, w.engine.IsRefundable(ctx, e), "the boundary day itself is still refundable")

	w.clock.now = t0.Add(61 * dayDur)
	assert.False(t, w.engine.IsRefundable(ctx, e), "one day past the boundary is not refundable")
}

func TestIsRefundable_RequiresAnOrder(t *testing.T) {
	// A granted entitlement was never purchased: nothing to refund.
	w := newWorld()
	e := entitlement.New("u-1", uuid.New(), entitlement.ModeVerified)
	e.CreatedAt = t0

	assert.False(t, w.engine.IsRefundable(context.Background(), e))
}

func TestIsRefundable_RedeemedDefersToRegain(t *testing.T) {
	// GIVEN: Redeemed at T0 (course also starts at T0), still inside the
	//        refund window
	// THEN: Refundability follows the regain window, not the refund clock

	w := newWorld()
	ctx := context.Background()
	e := purchased("u-1", uuid.New())
	w.redeemInto(e, "course-v1:run+1T2026", t0)

	w.clock.now = t0.Add(14 * dayDur)
	assert.True(t, w.engine.IsRefundable(ctx, e), "still regainable, so still refundable")

	w.clock.now = t0.Add(15 * dayDur)
	assert.False(t, w.engine.IsRefundable(ctx, e), "regain window closed, refund follows")
}

// =============================================================================
// REGAINABILITY
// =============================================================================

func TestIsRegainable_NeverForUnredeemed(t *testing.T) {
	w := newWorld()
	e := purchased("u-1", uuid.New())

	assert.False(t, w.engine.IsRegainable(context.Background(), e),
		"regain only applies to something that was redeemed")
}

func TestIsRegainable_RegainBoundary(t *testing.T) {
	// GIVEN: Redemption bound at T1 where course start is also T1
	// THEN: Regainable at T1+14d, not at T1+15d

	w := newWorld()
	ctx := context.Background()
	e := purchased("u-1", uuid.New())
	w.redeemInto(e, "course-v1:run+1T2026", t0)

	w.clock.now = t0.Add(14 * dayDur)
	assert.True(t, w.engine.IsRegainable(ctx, e))

	w.clock.now = t0.Add(15 * dayDur)
	assert.False(t, w.engine.IsRegainable(ctx, e))
}

func TestIsRegainable_CertificateUsesUpTheRedemption(t *testing.T) {
	// GIVEN: A redeemed entitlement whose user already holds a certificate
	// THEN: Not regainable even at day 0 post-redemption

	w := newWorld()
	ctx := context.Background()
	e := purchased("u-1", uuid.New())
	w.redeemInto(e, "course-v1:run+1T2026", t0)
	w.collab.AddCertificate(e.UserID, e.CourseID)

	assert.False(t, w.engine.IsRegainable(ctx, e))
}

func TestIsRegainable_FalseOnceExpired(t *testing.T) {
	w := newWorld()
	e := purchased("u-1", uuid.New())
	w.redeemInto(e, "course-v1:run+1T2026", t0)
	at := t0.Add(time.Hour)
	e.ExpiredAt = &at

	assert.False(t, w.engine.IsRegainable(context.Background(), e))
}

// =============================================================================
// DAYS UNTIL EXPIRATION
// =============================================================================

func TestDaysUntilExpiration_Unredeemed(t *testing.T) {
	w := newWorld()
	ctx := context.Background()
	e := purchased("u-1", uuid.New())

	days, err := w.engine.DaysUntilExpiration(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 450, days)

	w.clock.advanceDays(100)
	days, err = w.engine.DaysUntilExpiration(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 350, days)
}

func TestDaysUntilExpiration_RegainTracksMostRecentMilestone(t *testing.T) {
	// GIVEN: Entitlement created at T0, redeemed at T0+30d into a run that
	//        started at T0+20d
	// WHEN:  Checking at T0+35d
	// THEN:  The most recent milestone is the enrollment (5 days ago), so
	//        9 regain days remain and that binds before base expiry

	w := newWorld()
	ctx := context.Background()
	e := purchased("u-1", uuid.New())

	runKey := entitlement.CourseRunKey("course-v1:run+2T2026")
	w.collab.AddRun(catalog.Run{
		Key:         runKey,
		CourseID:    e.CourseID,
		Start:       t0.Add(20 * dayDur),
		Fulfillable: true,
	})
	e.Enrollment = &entitlement.Enrollment{
		RunKey:    runKey,
		CourseID:  e.CourseID,
		Mode:      e.Mode,
		CreatedAt: t0.Add(30 * dayDur),
	}

	w.clock.now = t0.Add(35 * dayDur)
	days, err := w.engine.DaysUntilExpiration(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 9, days)
}

func TestDaysUntilExpiration_BaseExpiryBindsWhenSooner(t *testing.T) {
	// GIVEN: An entitlement one day from absolute expiry, freshly redeemed
	// THEN: The absolute expiration binds, not the 14-day regain window

	w := newWorld()
	ctx := context.Background()
	e := purchased("u-1", uuid.New())

	redeemAt := t0.Add(449 * dayDur)
	w.redeemInto(e, "course-v1:run+3T2026", redeemAt)

	w.clock.now = redeemAt
	days, err := w.engine.DaysUntilExpiration(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, 1, days)
}
