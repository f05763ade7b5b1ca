package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events for retention and routing downstream.
type EventCategory string

const (
	// CategoryCompliance covers registry-significant changes: accounts created
	// or approved, credits minted.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authentication outcomes and admin bootstrap.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine workflow steps.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Subject names the
// record acted on, for example "industry:12" or "task:7".
type Event struct {
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	Subject   string        `json:"subject"`
	Action    string        `json:"action"`
	Reason    string        `json:"reason,omitempty"`
	Email     string        `json:"email,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	// ActorID is the "kind:id" of the caller when it differs from the subject,
	// for example the admin approving an account.
	ActorID string `json:"actor_id,omitempty"`
	// TxHash is set on ledger events.
	TxHash string `json:"tx_hash,omitempty"`
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Account events
	EventAccountRegistered     AuditEvent = "account_registered"
	EventAccountApproved       AuditEvent = "account_approved"
	EventAccountActivated      AuditEvent = "account_activated"
	EventAdminBootstrapped     AuditEvent = "admin_bootstrapped"
	EventIndustryProfileUpdate AuditEvent = "industry_profile_updated"

	// Authentication events
	EventLoginPasswordVerified AuditEvent = "login_password_verified"
	EventLoginFailed           AuditEvent = "login_failed"
	EventSessionIssued         AuditEvent = "session_issued"
	EventOTPRejected           AuditEvent = "otp_rejected"

	// Task events
	EventTaskAssigned      AuditEvent = "task_assigned"
	EventEvidenceSubmitted AuditEvent = "evidence_submitted"
	EventUploadURLIssued   AuditEvent = "upload_url_issued"
	EventMintSubmitted     AuditEvent = "mint_submitted"
	EventCreditMinted      AuditEvent = "credit_minted"
	EventMintFailed        AuditEvent = "mint_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccountRegistered:     CategoryCompliance,
	EventAccountApproved:       CategoryCompliance,
	EventAccountActivated:      CategoryCompliance,
	EventIndustryProfileUpdate: CategoryCompliance,
	EventCreditMinted:          CategoryCompliance,

	EventAdminBootstrapped:     CategorySecurity,
	EventLoginPasswordVerified: CategorySecurity,
	EventLoginFailed:           CategorySecurity,
	EventSessionIssued:         CategorySecurity,
	EventOTPRejected:           CategorySecurity,

	EventTaskAssigned:      CategoryOperations,
	EventEvidenceSubmitted: CategoryOperations,
	EventUploadURLIssued:   CategoryOperations,
	EventMintSubmitted:     CategoryOperations,
	EventMintFailed:        CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
