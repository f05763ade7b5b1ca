package models

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
	"bluecarbon/pkg/email"
)

const (
	maxEmailLength    = 254
	maxNameLength     = 128
	maxTierLength     = 64
	maxProjectIDLen   = 128
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
	otpLength         = 6
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Tier     string `json:"tier,omitempty"`
}

func (r *RegisterRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = email.Normalize(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Role = strings.ToUpper(strings.TrimSpace(r.Role))
	r.Tier = strings.TrimSpace(r.Tier)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *RegisterRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	if len(r.Email) > maxEmailLength {
		return dErrors.New(dErrors.CodeValidation, "email must be 254 characters or less")
	}
	if len(r.Name) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, "name must be 128 characters or less")
	}
	if len(r.Password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be 72 bytes or less")
	}
	if len(r.Tier) > maxTierLength {
		return dErrors.New(dErrors.CodeValidation, "tier must be 64 characters or less")
	}

	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}

	if !email.IsValid(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if len(r.Password) < minPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}

	kind, err := id.ParseAccountKind(r.Role)
	if err != nil {
		return err
	}
	if kind == id.KindIndustry && r.Tier == "" {
		return dErrors.New(dErrors.CodeValidation, "tier is required for industry accounts")
	}
	return nil
}

// Kind returns the requested account kind. Call after Validate.
func (r *RegisterRequest) Kind() id.AccountKind {
	return id.AccountKind(r.Role)
}

// OTPRequest is the body of activate and verify-login.
type OTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

func (r *OTPRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = email.Normalize(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
}

func (r *OTPRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Email) > maxEmailLength || len(r.OTP) > otpLength {
		return dErrors.New(dErrors.CodeInvalidOTP, "invalid or expired otp")
	}
	if r.Email == "" || r.OTP == "" {
		return dErrors.New(dErrors.CodeValidation, "email and otp are required")
	}
	return nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = email.Normalize(r.Email)
}

func (r *LoginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	if len(r.Email) > maxEmailLength || len(r.Password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeInvalidCredentials, "invalid credentials")
	}
	return nil
}

// BootstrapAdminRequest creates the first administrator.
type BootstrapAdminRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Secret   string `json:"secret"`
}

func (r *BootstrapAdminRequest) Normalize() {
	if r == nil {
		return
	}
	r.Email = email.Normalize(r.Email)
}

func (r *BootstrapAdminRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Password) > maxPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be 72 bytes or less")
	}
	if r.Email == "" || r.Password == "" || r.Secret == "" {
		return dErrors.New(dErrors.CodeValidation, "email, password and secret are required")
	}
	if !email.IsValid(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "email is invalid")
	}
	if len(r.Password) < minPasswordLength {
		return dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	return nil
}

// UpdateIndustryProfileRequest sets the fields the ledger mint needs.
type UpdateIndustryProfileRequest struct {
	WalletAddress string `json:"walletAddress"`
	ProjectID     string `json:"projectId"`
}

func (r *UpdateIndustryProfileRequest) Normalize() {
	if r == nil {
		return
	}
	r.WalletAddress = strings.TrimSpace(r.WalletAddress)
	r.ProjectID = strings.TrimSpace(r.ProjectID)
}

func (r *UpdateIndustryProfileRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.ProjectID) > maxProjectIDLen {
		return dErrors.New(dErrors.CodeValidation, "projectId must be 128 characters or less")
	}
	if r.WalletAddress == "" && r.ProjectID == "" {
		return dErrors.New(dErrors.CodeValidation, "walletAddress or projectId is required")
	}
	if r.WalletAddress != "" && !IsWalletAddress(r.WalletAddress) {
		return dErrors.New(dErrors.CodeValidation, "walletAddress must be a 0x-prefixed 20-byte hex address")
	}
	return nil
}

// IsWalletAddress reports whether s is a 0x-prefixed 40-hex-digit address.
func IsWalletAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}
