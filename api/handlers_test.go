package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/entitlement-engine/api"
	"github.com/warp/entitlement-engine/catalog"
	"github.com/warp/entitlement-engine/entitlement"
	memstore "github.com/warp/entitlement-engine/entitlement/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type env struct {
	server *httptest.Server
	store  *memstore.Memory
	collab *catalog.Memory
	clock  *fixedClock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clock := &fixedClock{now: t0}
	store := memstore.NewMemory()
	collab := catalog.NewMemory(clock)

	dir := &entitlement.Directory{
		Store:       store,
		Engine:      entitlement.NewPolicyEngine(collab, collab, clock),
		Enrollments: collab,
		Support:     store,
		Orders:      collab,
	}

	server := httptest.NewServer(api.NewRouter(api.NewHandler(dir, store, store)))
	t.Cleanup(server.Close)

	return &env{server: server, store: store, collab: collab, clock: clock}
}

func (e *env) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// =============================================================================
// LIFECYCLE FLOW
// =============================================================================

func TestAPI_CreateRedeemSummarizeFlow(t *testing.T) {
	// Walks the whole lifecycle over HTTP: grant an entitlement, redeem it
	// into a run, then read the summary with the regain window counting down.

	e := newEnv(t)
	courseID := uuid.New()
	runKey := "course-v1:Warp+GO101+1T2026"
	e.collab.AddRun(catalog.Run{
		Key:         entitlement.CourseRunKey(runKey),
		CourseID:    courseID,
		Start:       t0,
		Fulfillable: true,
	})

	// Create
	resp := e.do(t, http.MethodPost, "/api/entitlements", api.CreateEntitlementRequest{
		UserID:     "u-1",
		CourseUUID: courseID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.EntitlementDTO](t, resp)
	assert.Equal(t, "verified", created.Mode, "mode defaults to verified")
	assert.Equal(t, courseID.String(), created.CourseUUID)
	assert.Nil(t, created.Enrollment)

	// Listed as active and fulfillable
	resp = e.do(t, http.MethodGet, "/api/users/u-1/entitlements", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]api.EntitlementDTO](t, resp), 1)

	resp = e.do(t, http.MethodGet, "/api/users/u-1/entitlements/fulfillable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]api.EntitlementDTO](t, resp), 1)

	// Redeem
	resp = e.do(t, http.MethodPost, "/api/users/u-1/redemptions", api.RedemptionRequest{CourseRun: runKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[api.RedemptionDTO](t, resp).Redeemed)

	resp = e.do(t, http.MethodGet, "/api/users/u-1/entitlements", nil)
	active := decode[[]api.EntitlementDTO](t, resp)
	require.Len(t, active, 1)
	require.NotNil(t, active[0].Enrollment)
	assert.Equal(t, runKey, active[0].Enrollment.CourseRun)

	// A second redemption finds nothing to fulfill
	resp = e.do(t, http.MethodPost, "/api/users/u-1/redemptions", api.RedemptionRequest{CourseRun: runKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[api.RedemptionDTO](t, resp).Redeemed)

	// Summary: redeemed today, so the 14-day regain window drives the
	// warning date.
	resp = e.do(t, http.MethodGet, "/api/entitlements/"+created.UUID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[api.SummaryDTO](t, resp)
	assert.Empty(t, summary.ExpiredAt)
	assert.Equal(t, t0.AddDate(0, 0, 14).Format("Jan 2, 2006"), summary.ExpirationDate)
}

func TestAPI_SummaryRecordsExpiration(t *testing.T) {
	// GIVEN: A redeemed entitlement whose regain window has passed
	// WHEN:  The summary is requested
	// THEN:  The expiration transition is recorded and surfaced

	e := newEnv(t)
	courseID := uuid.New()
	runKey := "course-v1:Warp+GO101+1T2026"
	e.collab.AddRun(catalog.Run{
		Key:         entitlement.CourseRunKey(runKey),
		CourseID:    courseID,
		Start:       t0,
		Fulfillable: true,
	})

	resp := e.do(t, http.MethodPost, "/api/entitlements", api.CreateEntitlementRequest{
		UserID:     "u-1",
		CourseUUID: courseID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.EntitlementDTO](t, resp)

	resp = e.do(t, http.MethodPost, "/api/users/u-1/redemptions", api.RedemptionRequest{CourseRun: runKey})
	require.True(t, decode[api.RedemptionDTO](t, resp).Redeemed)

	e.clock.now = t0.AddDate(0, 0, 20)

	resp = e.do(t, http.MethodGet, "/api/entitlements/"+created.UUID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[api.SummaryDTO](t, resp)
	assert.Equal(t, e.clock.now.Format("Jan 2, 2006"), summary.ExpiredAt)
}

// =============================================================================
// REFUND QUOTES
// =============================================================================

func TestAPI_RefundQuote(t *testing.T) {
	e := newEnv(t)
	e.collab.AddOrder("ORD-7041", decimal.RequireFromString("149.00"), "USD")

	resp := e.do(t, http.MethodPost, "/api/entitlements", api.CreateEntitlementRequest{
		UserID:      "u-1",
		CourseUUID:  uuid.New().String(),
		OrderNumber: "ORD-7041",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.EntitlementDTO](t, resp)

	resp = e.do(t, http.MethodGet, "/api/entitlements/"+created.UUID+"/refund", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	quote := decode[api.RefundQuoteDTO](t, resp)
	assert.True(t, quote.Refundable)
	assert.Equal(t, "149", quote.Amount)
	assert.Equal(t, "USD", quote.Currency)
}

func TestAPI_RefundQuote_GrantedEntitlementNotRefundable(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/entitlements", api.CreateEntitlementRequest{
		UserID:     "u-1",
		CourseUUID: uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.EntitlementDTO](t, resp)

	resp = e.do(t, http.MethodGet, "/api/entitlements/"+created.UUID+"/refund", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	quote := decode[api.RefundQuoteDTO](t, resp)
	assert.False(t, quote.Refundable)
	assert.Empty(t, quote.Amount)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestAPI_PolicyLifecycle(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/policies", api.PolicyDTO{
		Site:           "acme",
		ExpirationDays: 90,
		RefundDays:     14,
		RegainDays:     7,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	policies := decode[[]api.PolicyDTO](t, resp)
	require.Len(t, policies, 1)
	assert.Equal(t, 90, policies[0].ExpirationDays)

	// An entitlement created under the site policy inherits its windows.
	// 40 days in, the 90-day expiry is inside the 60-day alert window.
	resp = e.do(t, http.MethodPost, "/api/entitlements", api.CreateEntitlementRequest{
		UserID:     "u-1",
		CourseUUID: uuid.New().String(),
		PolicySite: "acme",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.EntitlementDTO](t, resp)

	e.clock.now = t0.AddDate(0, 0, 40)
	resp = e.do(t, http.MethodGet, "/api/entitlements/"+created.UUID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[api.SummaryDTO](t, resp)
	assert.Equal(t, e.clock.now.AddDate(0, 0, 50).Format("Jan 2, 2006"), summary.ExpirationDate)
}

func TestAPI_CreateEntitlement_UnknownPolicySite(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/entitlements", api.CreateEntitlementRequest{
		UserID:     "u-1",
		CourseUUID: uuid.New().String(),
		PolicySite: "nowhere",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CreatePolicy_RejectsNegativeWindows(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/policies", api.PolicyDTO{
		Site:       "bad",
		RefundDays: -1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// SUPPORT ANNOTATIONS
// =============================================================================

func TestAPI_SupportAnnotationFlow(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodPost, "/api/entitlements", api.CreateEntitlementRequest{
		UserID:     "u-1",
		CourseUUID: uuid.New().String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[api.EntitlementDTO](t, resp)

	resp = e.do(t, http.MethodPost, "/api/entitlements/"+created.UUID+"/support", api.CreateSupportRequest{
		SupportUser: "staff-9",
		Action:      "REISSUE",
		Comments:    "learner asked to switch sessions",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/entitlements/"+created.UUID+"/support", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	annotations := decode[[]api.SupportAnnotationDTO](t, resp)
	require.Len(t, annotations, 1)
	assert.Equal(t, "REISSUE", annotations[0].Action)
	assert.Equal(t, "staff-9", annotations[0].SupportUser)

	resp = e.do(t, http.MethodPost, "/api/entitlements/"+created.UUID+"/support", api.CreateSupportRequest{
		SupportUser: "staff-9",
		Action:      "ESCALATE",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ListSupportActions(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/api/support/actions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.ElementsMatch(t, []string{"REISSUE", "CREATE"}, decode[[]string](t, resp))
}

// =============================================================================
// ERROR RESPONSES
// =============================================================================

func TestAPI_EntitlementErrors(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name string
		path string
		want int
	}{
		{"malformed uuid", "/api/entitlements/not-a-uuid", http.StatusBadRequest},
		{"unknown uuid", fmt.Sprintf("/api/entitlements/%s", uuid.New()), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := e.do(t, http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.want, resp.StatusCode)
			body := decode[api.ErrorResponse](t, resp)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestAPI_Redeem_RequiresCourseRun(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/users/u-1/redemptions", api.RedemptionRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
