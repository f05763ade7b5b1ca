package models

import (
	"strings"
	"time"

	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/email"
)

// ApprovalStatus is the admin gate on Industry and Verifier accounts.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "PENDING"
	StatusApproved ApprovalStatus = "APPROVED"
)

func (s ApprovalStatus) IsValid() bool {
	return s == StatusPending || s == StatusApproved
}

// VerifierRole distinguishes field verifiers from registry administrators.
type VerifierRole string

const (
	VerifierRoleVerifier VerifierRole = "VERIFIER"
	VerifierRoleAdmin    VerifierRole = "ADMIN"
)

const maxNameLength = 128

// IndustryProfile holds the Industry-only fields.
type IndustryProfile struct {
	Tier          string         `json:"tier"`
	Status        ApprovalStatus `json:"status"`
	WalletAddress string         `json:"wallet_address,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
}

// VerifierProfile holds the Verifier-only fields.
type VerifierProfile struct {
	Status ApprovalStatus `json:"status"`
	Role   VerifierRole   `json:"role"`
}

// Account is one record from exactly one of the three disjoint account
// variants. Kind is always set and decides which profile pointer is populated:
// Industry for KindIndustry, Verifier for KindVerifier, neither for KindPublic.
//
// Invariants:
//   - Email is normalized (trimmed, lower-cased) and unique across all kinds
//   - PasswordHash is never serialized
//   - Public accounts have no approval status and are approved by definition
type Account struct {
	ID           id.AccountID     `json:"id"`
	Kind         id.AccountKind   `json:"kind"`
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	PasswordHash string           `json:"-"`
	Active       bool             `json:"is_active"`
	Industry     *IndustryProfile `json:"industry,omitempty"`
	Verifier     *VerifierProfile `json:"verifier,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NormalizeEmail canonicalizes an email for storage and lookup.
func NormalizeEmail(address string) string {
	return email.Normalize(address)
}

func newAccount(kind id.AccountKind, address, name, passwordHash string, now time.Time) (*Account, error) {
	address = email.Normalize(address)
	name = strings.TrimSpace(name)
	if !email.IsValid(address) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is invalid")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "name cannot be empty")
	}
	if len(name) > maxNameLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "name must be 128 characters or less")
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash cannot be empty")
	}
	return &Account{
		Kind:         kind,
		Email:        address,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewPublic builds an inactive Public account.
func NewPublic(address, name, passwordHash string, now time.Time) (*Account, error) {
	return newAccount(id.KindPublic, address, name, passwordHash, now)
}

// NewIndustry builds an inactive, PENDING Industry account.
func NewIndustry(address, name, passwordHash, tier string, now time.Time) (*Account, error) {
	a, err := newAccount(id.KindIndustry, address, name, passwordHash, now)
	if err != nil {
		return nil, err
	}
	a.Industry = &IndustryProfile{Tier: strings.TrimSpace(tier), Status: StatusPending}
	return a, nil
}

// NewVerifier builds an inactive, PENDING field verifier.
func NewVerifier(address, name, passwordHash string, now time.Time) (*Account, error) {
	a, err := newAccount(id.KindVerifier, address, name, passwordHash, now)
	if err != nil {
		return nil, err
	}
	a.Verifier = &VerifierProfile{Status: StatusPending, Role: VerifierRoleVerifier}
	return a, nil
}

// NewAdmin builds an approved, active administrator. Only the bootstrap path
// creates these; self-registration never can.
func NewAdmin(address, name, passwordHash string, now time.Time) (*Account, error) {
	a, err := newAccount(id.KindVerifier, address, name, passwordHash, now)
	if err != nil {
		return nil, err
	}
	a.Verifier = &VerifierProfile{Status: StatusApproved, Role: VerifierRoleAdmin}
	a.Active = true
	return a, nil
}

// RequiresApproval reports whether the account's kind is gated by an admin.
func (a *Account) RequiresApproval() bool {
	return a.Kind == id.KindIndustry || a.Kind == id.KindVerifier
}

// ApprovalStatus returns the approval status and whether the kind has one.
func (a *Account) ApprovalStatus() (ApprovalStatus, bool) {
	switch a.Kind {
	case id.KindIndustry:
		return a.Industry.Status, true
	case id.KindVerifier:
		return a.Verifier.Status, true
	}
	return "", false
}

// IsApproved is true for approved gated accounts and for every Public account.
func (a *Account) IsApproved() bool {
	status, gated := a.ApprovalStatus()
	return !gated || status == StatusApproved
}

// CanLogin reports whether password login may proceed for this account.
func (a *Account) CanLogin() bool {
	return a.Active && a.IsApproved()
}

// IsAdmin reports whether this is a verifier holding the ADMIN role.
func (a *Account) IsAdmin() bool {
	return a.Kind == id.KindVerifier && a.Verifier.Role == VerifierRoleAdmin
}

// SessionRole is the role bound into session tokens for this account.
func (a *Account) SessionRole() id.Role {
	switch a.Kind {
	case id.KindIndustry:
		return id.RoleIndustry
	case id.KindVerifier:
		if a.IsAdmin() {
			return id.RoleAdmin
		}
		return id.RoleVerifier
	}
	return id.RolePublic
}

// HasMintingProfile reports whether an industry has both fields the ledger
// mint needs.
func (a *Account) HasMintingProfile() bool {
	return a.Kind == id.KindIndustry &&
		a.Industry.WalletAddress != "" &&
		a.Industry.ProjectID != ""
}

// CanSetStatus checks that the account's kind carries an approval status.
func (a *Account) CanSetStatus(status ApprovalStatus) error {
	if !a.RequiresApproval() {
		return dErrors.New(dErrors.CodeInvalidState, "account kind has no approval status")
	}
	if !status.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown approval status")
	}
	return nil
}

// ApplyStatus sets the approval status. Call CanSetStatus first.
func (a *Account) ApplyStatus(status ApprovalStatus, now time.Time) {
	switch a.Kind {
	case id.KindIndustry:
		a.Industry.Status = status
	case id.KindVerifier:
		a.Verifier.Status = status
	}
	a.UpdatedAt = now
}

// ApplyActive sets the active flag.
func (a *Account) ApplyActive(active bool, now time.Time) {
	a.Active = active
	a.UpdatedAt = now
}

// CanUpdateMintingProfile checks the account is an industry.
func (a *Account) CanUpdateMintingProfile() error {
	if a.Kind != id.KindIndustry {
		return dErrors.New(dErrors.CodeInvalidState, "only industry accounts have a minting profile")
	}
	return nil
}

// ApplyMintingProfile sets the wallet and project fields. Empty arguments keep
// the current value.
func (a *Account) ApplyMintingProfile(walletAddress, projectID string, now time.Time) {
	if walletAddress != "" {
		a.Industry.WalletAddress = walletAddress
	}
	if projectID != "" {
		a.Industry.ProjectID = projectID
	}
	a.UpdatedAt = now
}

// Clone returns a deep copy so stores never share profile pointers with callers.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Industry != nil {
		p := *a.Industry
		c.Industry = &p
	}
	if a.Verifier != nil {
		p := *a.Verifier
		c.Verifier = &p
	}
	return &c
}

// Sanitized returns a copy without the password hash, for responses.
func (a *Account) Sanitized() *Account {
	c := a.Clone()
	if c != nil {
		c.PasswordHash = ""
	}
	return c
}

// Ref is the read-only view of an account that other modules hold.
type Ref struct {
	ID   id.AccountID   `json:"id"`
	Kind id.AccountKind `json:"kind"`
	Name string         `json:"name"`
}

func (a *Account) Ref() Ref {
	return Ref{ID: a.ID, Kind: a.Kind, Name: a.Name}
}
