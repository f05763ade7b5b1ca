package models

import (
	"encoding/json"
	"strings"
	"time"

	id "bluecarbon/pkg/domain"
	dErrors "bluecarbon/pkg/domain-errors"
)

const (
	maxTokenURILength = 2048
	maxFileNameLength = 255
	maxFileTypeLength = 127
)

// AssignRequest accepts ids as JSON numbers or numeric strings.
type AssignRequest struct {
	IndustryID json.Number `json:"industryId"`
	VerifierID json.Number `json:"verifierId"`
	DueDate    string      `json:"dueDate"`

	industryID id.AccountID
	verifierID id.AccountID
	dueDate    time.Time
}

func (r *AssignRequest) Normalize() {
	if r == nil {
		return
	}
	r.DueDate = strings.TrimSpace(r.DueDate)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *AssignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.IndustryID == "" || r.VerifierID == "" || r.DueDate == "" {
		return dErrors.New(dErrors.CodeValidation, "industryId, verifierId and dueDate are required")
	}

	var err error
	if r.industryID, err = id.ParseAccountID(r.IndustryID.String()); err != nil {
		return dErrors.New(dErrors.CodeValidation, "industryId must be a positive integer")
	}
	if r.verifierID, err = id.ParseAccountID(r.VerifierID.String()); err != nil {
		return dErrors.New(dErrors.CodeValidation, "verifierId must be a positive integer")
	}
	if r.dueDate, err = parseDueDate(r.DueDate); err != nil {
		return dErrors.New(dErrors.CodeValidation, "dueDate must be an RFC 3339 timestamp or YYYY-MM-DD date")
	}
	return nil
}

// Parsed returns the validated values. Call after Validate.
func (r *AssignRequest) Parsed() (industryID, verifierID id.AccountID, dueDate time.Time) {
	return r.industryID, r.verifierID, r.dueDate
}

func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

type SubmitEvidenceRequest struct {
	EvidenceKeys []string `json:"evidenceKeys"`
}

func (r *SubmitEvidenceRequest) Normalize() {
	if r == nil {
		return
	}
	r.EvidenceKeys = NormalizeEvidenceRefs(r.EvidenceKeys)
}

func (r *SubmitEvidenceRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return ValidateEvidenceRefs(r.EvidenceKeys)
}

type ApproveAndMintRequest struct {
	TokenURI string `json:"tokenURI"`
}

func (r *ApproveAndMintRequest) Normalize() {
	if r == nil {
		return
	}
	r.TokenURI = strings.TrimSpace(r.TokenURI)
}

func (r *ApproveAndMintRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.TokenURI) > maxTokenURILength {
		return dErrors.New(dErrors.CodeValidation, "tokenURI is too long")
	}
	if r.TokenURI == "" {
		return dErrors.New(dErrors.CodeValidation, "tokenURI is required")
	}
	return nil
}

type UploadURLRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

func (r *UploadURLRequest) Normalize() {
	if r == nil {
		return
	}
	r.FileName = strings.TrimSpace(r.FileName)
	r.FileType = strings.ToLower(strings.TrimSpace(r.FileType))
}

func (r *UploadURLRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.FileName) > maxFileNameLength || len(r.FileType) > maxFileTypeLength {
		return dErrors.New(dErrors.CodeValidation, "fileName or fileType is too long")
	}
	if r.FileName == "" || r.FileType == "" {
		return dErrors.New(dErrors.CodeValidation, "fileName and fileType are required")
	}
	// The name becomes part of the object key.
	if r.FileName == "." || r.FileName == ".." ||
		strings.ContainsAny(r.FileName, "/\\") ||
		strings.IndexFunc(r.FileName, func(c rune) bool { return c < 0x20 || c == 0x7f }) >= 0 {
		return dErrors.New(dErrors.CodeValidation, "fileName must be a plain file name")
	}
	if !strings.Contains(r.FileType, "/") {
		return dErrors.New(dErrors.CodeValidation, "fileType must be a MIME type")
	}
	return nil
}

// UploadURLResponse carries the presigned URL and the key to submit later.
type UploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	FileKey   string `json:"fileKey"`
}

type TaskResponse struct {
	Message string `json:"message"`
	Task    *Task  `json:"task"`
}

const (
	MessageEvidenceSubmitted = "Task report submitted successfully."
	MessageMinted            = "Task approved and credit minted successfully!"
)
