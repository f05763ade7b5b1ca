package domain

import dErrors "bluecarbon/pkg/domain-errors"

// AccountKind tags which of the three disjoint account variants a record
// belongs to. Every account returned by the identity directory carries one.
type AccountKind string

const (
	KindPublic   AccountKind = "PUBLIC"
	KindIndustry AccountKind = "INDUSTRY"
	KindVerifier AccountKind = "VERIFIER"
)

// ParseAccountKind constructs an AccountKind from external input.
//
// Errors: returns CodeBadRequest ("invalid role") for anything other than the
// three registrable kinds. ADMIN is a verifier role, never a kind.
func ParseAccountKind(s string) (AccountKind, error) {
	k := AccountKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid role")
	}
	return k, nil
}

func (k AccountKind) IsValid() bool {
	switch k {
	case KindPublic, KindIndustry, KindVerifier:
		return true
	}
	return false
}

func (k AccountKind) String() string { return string(k) }

// Role is the authorization role bound into a session token.
type Role string

const (
	RolePublic   Role = "PUBLIC"
	RoleIndustry Role = "INDUSTRY"
	RoleVerifier Role = "VERIFIER"
	RoleAdmin    Role = "ADMIN"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePublic, RoleIndustry, RoleVerifier, RoleAdmin:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// Kind returns the account variant a role belongs to. ADMIN accounts are verifiers.
func (r Role) Kind() AccountKind {
	switch r {
	case RolePublic:
		return KindPublic
	case RoleIndustry:
		return KindIndustry
	case RoleVerifier, RoleAdmin:
		return KindVerifier
	}
	return ""
}
