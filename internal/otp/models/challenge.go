package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// CodeLength is the number of decimal digits in a challenge code.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// Purpose selects the subject line the code is delivered with.
type Purpose string

const (
	PurposeActivation Purpose = "activation"
	PurposeApproval   Purpose = "approval"
	PurposeLogin      Purpose = "login"
)

// Subject returns the email subject for the purpose.
func (p Purpose) Subject() string {
	switch p {
	case PurposeApproval:
		return "Your Account Has Been Approved!"
	case PurposeLogin:
		return "Your Login Verification Code"
	default:
		return "Activate Your Account"
	}
}

// Challenge is one issued code. Several may coexist for the same email; each
// is removed when it is consumed.
type Challenge struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChallenge builds a challenge with a fresh uniformly random code.
func NewChallenge(email string, now time.Time, ttl time.Duration) (*Challenge, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	return &Challenge{
		ID:        uuid.New(),
		Email:     email,
		Code:      code,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}, nil
}

// GenerateCode returns a zero-padded code drawn from crypto/rand.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// IsValidAt reports whether the challenge is still usable at now. Expiry is
// exclusive: a challenge is dead at its ExpiresAt instant.
func (c *Challenge) IsValidAt(now time.Time) bool {
	return c.ExpiresAt.After(now)
}
