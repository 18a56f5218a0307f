/*
handlers.go - HTTP API handlers for the entitlement engine

PURPOSE:
  Exposes the entitlement lifecycle engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the directory.

ENDPOINTS:
  Users:
    GET  /api/users/{id}/entitlements              Active entitlements
    GET  /api/users/{id}/entitlements/fulfillable  Fulfillable, newest first
    POST /api/users/{id}/redemptions               Check-and-redeem into a run

  Entitlements:
    POST /api/entitlements                  Create/grant an entitlement
    GET  /api/entitlements/{uuid}           Summary projection
    GET  /api/entitlements/{uuid}/refund    Refund quote
    GET  /api/entitlements/{uuid}/support   Support annotations
    POST /api/entitlements/{uuid}/support   Append support annotation

  Policies:
    GET  /api/policies                      List site policies
    POST /api/policies                      Create/update a site policy

  Support:
    GET  /api/support/actions               Support action enumeration

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (already redeemed)
  - 500: Internal errors
  Redemption failures are not errors: they surface as {"redeemed": false}
  without internal detail.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/entitlement-engine/entitlement"
)

// shortDate matches the directory's summary rendering.
const shortDate = "Jan 2, 2006"

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Directory *entitlement.Directory
	Policies  entitlement.PolicyStore
	Support   entitlement.SupportStore
}

// NewHandler creates a handler around a wired directory.
func NewHandler(dir *entitlement.Directory, policies entitlement.PolicyStore, support entitlement.SupportStore) *Handler {
	return &Handler{Directory: dir, Policies: policies, Support: support}
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// ListActiveEntitlements returns the user's active entitlements.
// GET /api/users/{id}/entitlements
func (h *Handler) ListActiveEntitlements(w http.ResponseWriter, r *http.Request) {
	user := entitlement.UserID(chi.URLParam(r, "id"))

	ents, err := h.Directory.ActiveEntitlements(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entitlements", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTOs(ents))
}

// ListFulfillableEntitlements returns the user's fulfillable entitlements,
// newest first.
// GET /api/users/{id}/entitlements/fulfillable
func (h *Handler) ListFulfillableEntitlements(w http.ResponseWriter, r *http.Request) {
	user := entitlement.UserID(chi.URLParam(r, "id"))

	ents, err := h.Directory.FulfillableEntitlements(r.Context(), user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entitlements", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTOs(ents))
}

// Redeem checks for a fulfillable entitlement matching the run and redeems
// it. A failed or impossible redemption reports redeemed=false, never an
// error body with internal detail.
// POST /api/users/{id}/redemptions
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	user := entitlement.UserID(chi.URLParam(r, "id"))

	var req RedemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CourseRun == "" {
		writeError(w, http.StatusBadRequest, "course_run is required", nil)
		return
	}

	ok := h.Directory.CheckAndRedeem(r.Context(), user, entitlement.CourseRunKey(req.CourseRun))
	writeJSON(w, http.StatusOK, RedemptionDTO{Redeemed: ok})
}

// =============================================================================
// ENTITLEMENT ENDPOINTS
// =============================================================================

// CreateEntitlement grants or sells a new entitlement.
// POST /api/entitlements
func (h *Handler) CreateEntitlement(w http.ResponseWriter, r *http.Request) {
	var req CreateEntitlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	courseID, err := uuid.Parse(req.CourseUUID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid course_uuid", err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode = entitlement.ModeVerified
	}

	e := entitlement.New(entitlement.UserID(req.UserID), courseID, mode)
	e.OrderNumber = req.OrderNumber

	if req.PolicySite != "" {
		policy, err := h.Policies.PolicyForSite(r.Context(), req.PolicySite)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load policy", err)
			return
		}
		if policy == nil {
			writeError(w, http.StatusBadRequest, "Unknown policy site", nil)
			return
		}
		e.Policy = policy
	}

	if err := h.Directory.Create(r.Context(), e); err != nil {
		if errors.Is(err, entitlement.ErrInvalidPolicy) {
			writeError(w, http.StatusBadRequest, "Invalid policy", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create entitlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntitlementDTO(e))
}

// GetSummary returns the entitlement summary projection, refreshing the
// expiration cache first. Evaluation and reading are two explicit steps;
// the read itself never mutates.
// GET /api/entitlements/{uuid}
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	e, ok := h.loadEntitlement(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if err := h.Directory.EvaluateExpiration(ctx, e); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to evaluate expiration", err)
		return
	}
	summary, err := h.Directory.Summarize(ctx, e)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize entitlement", err)
		return
	}

	dto := SummaryDTO{
		UUID:           summary.UUID.String(),
		CourseUUID:     summary.CourseID.String(),
		ExpirationDate: summary.ExpirationWarning,
	}
	if summary.ExpiredAt != nil {
		dto.ExpiredAt = summary.ExpiredAt.Format(shortDate)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetRefundQuote returns refund eligibility and the quoted amount.
// GET /api/entitlements/{uuid}/refund
func (h *Handler) GetRefundQuote(w http.ResponseWriter, r *http.Request) {
	e, ok := h.loadEntitlement(w, r)
	if !ok {
		return
	}

	quote := h.Directory.Refund(r.Context(), e)
	dto := RefundQuoteDTO{Refundable: quote.Refundable}
	if quote.Refundable {
		dto.Amount = quote.Amount.String()
		dto.Currency = quote.Currency
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SUPPORT ENDPOINTS
// =============================================================================

// CreateSupportAnnotation appends a staff intervention record.
// POST /api/entitlements/{uuid}/support
func (h *Handler) CreateSupportAnnotation(w http.ResponseWriter, r *http.Request) {
	e, ok := h.loadEntitlement(w, r)
	if !ok {
		return
	}

	var req CreateSupportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a := entitlement.SupportAnnotation{
		EntitlementID: e.UUID,
		SupportUser:   entitlement.UserID(req.SupportUser),
		Action:        entitlement.SupportAction(req.Action),
		Comments:      req.Comments,
		UnenrolledRun: entitlement.CourseRunKey(req.UnenrolledRun),
	}
	if err := h.Directory.Annotate(r.Context(), a); err != nil {
		if errors.Is(err, entitlement.ErrInvalidSupportAction) {
			writeError(w, http.StatusBadRequest, "Invalid support action", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to record annotation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSupportAnnotations returns the intervention history for an entitlement.
// GET /api/entitlements/{uuid}/support
func (h *Handler) ListSupportAnnotations(w http.ResponseWriter, r *http.Request) {
	e, ok := h.loadEntitlement(w, r)
	if !ok {
		return
	}

	annotations, err := h.Support.SupportFor(r.Context(), e.UUID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list annotations", err)
		return
	}

	dtos := make([]SupportAnnotationDTO, len(annotations))
	for i, a := range annotations {
		dtos[i] = SupportAnnotationDTO{
			ID:            a.ID.String(),
			SupportUser:   string(a.SupportUser),
			Action:        string(a.Action),
			Comments:      a.Comments,
			UnenrolledRun: string(a.UnenrolledRun),
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListSupportActions returns the fixed action enumeration.
// GET /api/support/actions
func (h *Handler) ListSupportActions(w http.ResponseWriter, r *http.Request) {
	actions := entitlement.ListSupportActions()
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// POLICY ENDPOINTS
// =============================================================================

// ListPolicies returns all site policies.
// GET /api/policies
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Policies.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePolicy creates or updates a site policy. Misconfigured durations
// are rejected here, before any entitlement can reference the policy.
// POST /api/policies
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Site == "" {
		writeError(w, http.StatusBadRequest, "site is required", nil)
		return
	}

	p := entitlement.Policy{
		ExpirationPeriod: time.Duration(req.ExpirationDays) * 24 * time.Hour,
		RefundPeriod:     time.Duration(req.RefundDays) * 24 * time.Hour,
		RegainPeriod:     time.Duration(req.RegainDays) * 24 * time.Hour,
		Site:             req.Site,
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}
	if err := h.Policies.SavePolicy(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(p))
}

// =============================================================================
// HELPERS
// =============================================================================

// loadEntitlement resolves the {uuid} route parameter, writing the error
// response itself when the record cannot be served.
func (h *Handler) loadEntitlement(w http.ResponseWriter, r *http.Request) (*entitlement.Entitlement, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entitlement uuid", err)
		return nil, false
	}

	e, err := h.Directory.Store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load entitlement", err)
		return nil, false
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "Entitlement not found", nil)
		return nil, false
	}
	return e, true
}

func toEntitlementDTO(e *entitlement.Entitlement) EntitlementDTO {
	dto := EntitlementDTO{
		UUID:        e.UUID.String(),
		UserID:      string(e.UserID),
		CourseUUID:  e.CourseID.String(),
		Mode:        e.Mode,
		OrderNumber: e.OrderNumber,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExpiredAt != nil {
		dto.ExpiredAt = e.ExpiredAt.Format(time.RFC3339)
	}
	if e.Enrollment != nil {
		dto.Enrollment = &EnrollmentDTO{
			CourseRun: string(e.Enrollment.RunKey),
			Mode:      e.Enrollment.Mode,
			CreatedAt: e.Enrollment.CreatedAt.Format(time.RFC3339),
		}
	}
	return dto
}

func toEntitlementDTOs(ents []*entitlement.Entitlement) []EntitlementDTO {
	dtos := make([]EntitlementDTO, len(ents))
	for i, e := range ents {
		dtos[i] = toEntitlementDTO(e)
	}
	return dtos
}

func toPolicyDTO(p entitlement.Policy) PolicyDTO {
	return PolicyDTO{
		Site:           p.Site,
		ExpirationDays: p.ExpirationDays(),
		RefundDays:     p.RefundDays(),
		RegainDays:     p.RegainDays(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
