package models

import (
	"time"

	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	platformstrings "bluecarbon/pkg/platform/strings"
)

type Status string

const (
	StatusAssigned          Status = "ASSIGNED"
	StatusCompleted         Status = "COMPLETED"
	StatusMinting           Status = "MINTING"
	StatusApprovedAndMinted Status = "APPROVED_AND_MINTED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusAssigned, StatusCompleted, StatusMinting, StatusApprovedAndMinted:
		return true
	}
	return false
}

const (
	maxEvidenceRefs      = 50
	maxEvidenceRefLength = 512
)

// Task is a verification task: one verifier inspects one industry, submits
// evidence, and an admin approves it by minting a credit on the ledger.
type Task struct {
	ID              id.TaskID    `json:"id"`
	IndustryID      id.AccountID `json:"industryId"`
	VerifierID      id.AccountID `json:"verifierId"`
	DueDate         time.Time    `json:"dueDate"`
	Status          Status       `json:"status"`
	EvidenceRefs    []string     `json:"evidenceLinks"`
	TransactionHash *string      `json:"transactionHash"`
	TokenID         *int64       `json:"tokenId"`
	PendingTxHash   *string      `json:"-"`
	// MintClaim identifies the approval attempt holding the MINTING state.
	MintClaim    *string   `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IndustryName string    `json:"industryName,omitempty"`
}

// New builds an ASSIGNED task.
func New(industryID, verifierID id.AccountID, dueDate, now time.Time) (*Task, error) {
	if industryID.IsNil() || verifierID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "industry and verifier are required")
	}
	if dueDate.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "due date is required")
	}
	return &Task{
		IndustryID:   industryID,
		VerifierID:   verifierID,
		DueDate:      dueDate.UTC(),
		Status:       StatusAssigned,
		EvidenceRefs: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (t *Task) IsAssignedTo(verifierID id.AccountID) bool {
	return t.VerifierID == verifierID
}

// CanSubmitEvidence checks that verifierID owns the task and that it is still
// awaiting evidence.
func (t *Task) CanSubmitEvidence(verifierID id.AccountID) error {
	if !t.IsAssignedTo(verifierID) {
		return dErrors.New(dErrors.CodeForbidden, "you are not assigned to this task")
	}
	if t.Status != StatusAssigned {
		return dErrors.New(dErrors.CodeInvalidState, "task is not awaiting evidence")
	}
	return nil
}

func (t *Task) ApplyEvidence(refs []string, now time.Time) {
	t.EvidenceRefs = append([]string(nil), refs...)
	t.Status = StatusCompleted
	t.UpdatedAt = now
}

// CanStartMint checks that the task is COMPLETED. A task already MINTING has a
// submission in flight and is refused.
func (t *Task) CanStartMint() error {
	switch t.Status {
	case StatusCompleted:
		return nil
	case StatusMinting:
		return dErrors.New(dErrors.CodeInvalidState, "task is already being minted")
	default:
		return dErrors.New(dErrors.CodeInvalidState, "task must be in COMPLETED status to be approved")
	}
}

// MintClaimExpired reports whether a MINTING task has seen no progress for
// longer than ttl, so the attempt that claimed it is presumed gone.
func (t *Task) MintClaimExpired(now time.Time, ttl time.Duration) bool {
	return t.Status == StatusMinting && ttl > 0 && now.Sub(t.UpdatedAt) > ttl
}

// IsVisibleTo reports whether the account may read the task.
func (t *Task) IsVisibleTo(accountID id.AccountID, role id.Role) bool {
	switch role {
	case id.RoleAdmin:
		return true
	case id.RoleVerifier:
		return t.VerifierID == accountID
	case id.RoleIndustry:
		return t.IndustryID == accountID
	}
	return false
}

// ApplyStartMint moves the task to MINTING under claim. A reclaim replaces
// the previous attempt's claim.
func (t *Task) ApplyStartMint(claim string, now time.Time) {
	t.Status = StatusMinting
	t.MintClaim = &claim
	t.UpdatedAt = now
}

// CanRecordMint checks that the task is still MINTING under claim, so an
// attempt whose claim was taken over cannot overwrite the newer attempt.
func (t *Task) CanRecordMint(claim string) error {
	if t.Status != StatusMinting {
		return dErrors.New(dErrors.CodeInvalidState, "task is not being minted")
	}
	if t.MintClaim == nil || *t.MintClaim != claim {
		return dErrors.New(dErrors.CodeInvalidState, "mint claim was taken over by another attempt")
	}
	return nil
}

// ApplyPendingTx remembers a submitted but unconfirmed transaction.
func (t *Task) ApplyPendingTx(txHash string, now time.Time) {
	t.PendingTxHash = &txHash
	t.UpdatedAt = now
}

// ApplyMinted finalizes the task with the confirmed transaction.
func (t *Task) ApplyMinted(txHash string, tokenID *int64, now time.Time) {
	t.Status = StatusApprovedAndMinted
	t.TransactionHash = &txHash
	t.TokenID = tokenID
	t.PendingTxHash = nil
	t.MintClaim = nil
	t.UpdatedAt = now
}

// ApplyMintFailed returns the task to COMPLETED. keepPending retains the
// pending transaction so a retry awaits it rather than minting twice.
func (t *Task) ApplyMintFailed(keepPending bool, now time.Time) {
	t.Status = StatusCompleted
	t.MintClaim = nil
	if !keepPending {
		t.PendingTxHash = nil
	}
	t.UpdatedAt = now
}

// NormalizeEvidenceRefs trims refs and drops empties and duplicates.
func NormalizeEvidenceRefs(refs []string) []string {
	return platformstrings.DedupeAndTrim(refs)
}

// ValidateEvidenceRefs enforces the evidence list bounds.
func ValidateEvidenceRefs(refs []string) error {
	if len(refs) > maxEvidenceRefs {
		return dErrors.New(dErrors.CodeValidation, "too many evidence keys")
	}
	for _, r := range refs {
		if len(r) > maxEvidenceRefLength {
			return dErrors.New(dErrors.CodeValidation, "evidence key is too long")
		}
	}
	if len(refs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "evidenceKeys is required")
	}
	return nil
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	c.EvidenceRefs = append([]string{}, t.EvidenceRefs...)
	if t.TransactionHash != nil {
		v := *t.TransactionHash
		c.TransactionHash = &v
	}
	if t.TokenID != nil {
		v := *t.TokenID
		c.TokenID = &v
	}
	if t.PendingTxHash != nil {
		v := *t.PendingTxHash
		c.PendingTxHash = &v
	}
	if t.MintClaim != nil {
		v := *t.MintClaim
		c.MintClaim = &v
	}
	return &c
}
