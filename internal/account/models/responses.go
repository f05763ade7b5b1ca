package models

import (
	identity "bluecarbon/internal/identity/models"
)

const (
	MessageRegisteredPublic  = "Registration successful! Please check your email to activate your account."
	MessageRegisteredPending = "Registration successful! Your account is pending admin approval."
	MessageActivated         = "Account activated successfully! You can now log in."
	MessagePasswordVerified  = "Password verified. Please check your email for an OTP to complete your login."
	MessageLoginSuccessful   = "Login successful!"
	MessageAdminCreated      = "Initial admin account created successfully."
)

type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterResult reports the created account and whether an activation code
// went out.
type RegisterResult struct {
	Account        *identity.Account
	ActivationSent bool
}

func (r *RegisterResult) Message() string {
	if r.ActivationSent {
		return MessageRegisteredPublic
	}
	return MessageRegisteredPending
}

// LoginResponse is returned by verify-login. User never carries the password hash.
type LoginResponse struct {
	Message string            `json:"message"`
	Token   string            `json:"token"`
	User    *identity.Account `json:"user"`
}

type PendingUsersResponse struct {
	Users []*identity.Account `json:"users"`
}
