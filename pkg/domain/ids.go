package domain

import (
	"strconv"
	"strings"

	dErrors "bluecarbon/pkg/domain-errors"
)

// AccountID identifies an account within its kind. Public, Industry and
// Verifier accounts draw ids from independent sequences, so an AccountID is only
// meaningful together with the account kind.
type AccountID int64

// TaskID identifies a verification task.
type TaskID int64

// maxIDLength bounds the decimal input accepted from callers before parsing.
const maxIDLength = 19

func (id AccountID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id TaskID) String() string    { return strconv.FormatInt(int64(id), 10) }

// IsNil reports whether the id is the zero value.
func (id AccountID) IsNil() bool { return id <= 0 }
func (id TaskID) IsNil() bool    { return id <= 0 }

// ParseAccountID parses a caller-supplied decimal account id.
//
// Errors: returns CodeNotFound when the value is empty, not a plain decimal, or
// outside 1..MaxInt64. A malformed id cannot name any record, so it is reported
// the same way as a missing one.
func ParseAccountID(s string) (AccountID, error) {
	v, err := parsePositive(s, "account not found")
	if err != nil {
		return 0, err
	}
	return AccountID(v), nil
}

// ParseTaskID parses a caller-supplied decimal task id.
func ParseTaskID(s string) (TaskID, error) {
	v, err := parsePositive(s, "task not found")
	if err != nil {
		return 0, err
	}
	return TaskID(v), nil
}

func parsePositive(s, notFound string) (int64, error) {
	if s == "" || len(s) > maxIDLength {
		return 0, dErrors.New(dErrors.CodeNotFound, notFound)
	}
	// strconv accepts a leading sign; ids are bare digits only.
	if strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, dErrors.New(dErrors.CodeNotFound, notFound)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeNotFound, notFound)
	}
	return v, nil
}
