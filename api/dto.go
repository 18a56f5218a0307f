/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.
*/
package api

// EntitlementDTO represents an entitlement in API responses.
type EntitlementDTO struct {
	UUID        string         `json:"uuid"`
	UserID      string         `json:"user_id"`
	CourseUUID  string         `json:"course_uuid"`
	Mode        string         `json:"mode"`
	OrderNumber string         `json:"order_number,omitempty"`
	ExpiredAt   string         `json:"expired_at,omitempty"`
	Enrollment  *EnrollmentDTO `json:"enrollment,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// EnrollmentDTO represents the bound course run of a redeemed entitlement.
type EnrollmentDTO struct {
	CourseRun string `json:"course_run"`
	Mode      string `json:"mode"`
	CreatedAt string `json:"created_at"`
}

// CreateEntitlementRequest grants or sells an entitlement.
type CreateEntitlementRequest struct {
	UserID      string `json:"user_id"`
	CourseUUID  string `json:"course_uuid"`
	Mode        string `json:"mode"`
	OrderNumber string `json:"order_number,omitempty"`
	PolicySite  string `json:"policy_site,omitempty"`
}

// SummaryDTO is the entitlement summary projection.
type SummaryDTO struct {
	UUID       string `json:"uuid"`
	CourseUUID string `json:"course_uuid"`
	// ExpiredAt is a short date, empty while the entitlement is active.
	ExpiredAt string `json:"expired_at,omitempty"`
	// ExpirationDate is the short-date warning, only present inside the
	// configured alert window.
	ExpirationDate string `json:"expiration_date,omitempty"`
}

// RedemptionRequest asks to redeem a fulfillable entitlement into a run.
type RedemptionRequest struct {
	CourseRun string `json:"course_run"`
}

// RedemptionDTO reports the outcome of a redemption attempt.
type RedemptionDTO struct {
	Redeemed bool `json:"redeemed"`
}

// RefundQuoteDTO reports refund eligibility and the quoted amount.
type RefundQuoteDTO struct {
	Refundable bool   `json:"refundable"`
	Amount     string `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

// PolicyDTO represents a site policy, windows in whole days.
type PolicyDTO struct {
	Site           string `json:"site"`
	ExpirationDays int    `json:"expiration_days"`
	RefundDays     int    `json:"refund_days"`
	RegainDays     int    `json:"regain_days"`
}

// SupportAnnotationDTO represents one staff intervention record.
type SupportAnnotationDTO struct {
	ID            string `json:"id"`
	SupportUser   string `json:"support_user"`
	Action        string `json:"action"`
	Comments      string `json:"comments,omitempty"`
	UnenrolledRun string `json:"unenrolled_run,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// CreateSupportRequest appends a staff intervention record.
type CreateSupportRequest struct {
	SupportUser   string `json:"support_user"`
	Action        string `json:"action"`
	Comments      string `json:"comments,omitempty"`
	UnenrolledRun string `json:"unenrolled_run,omitempty"`
}

// ErrorResponse is the error envelope for all endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
