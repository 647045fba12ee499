package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "civicproof/pkg/domain-errors"
)

// Typed identifiers keep feedback and report IDs from being mixed up at compile time.
type (
	FeedbackID uuid.UUID
	ReportID   uuid.UUID
)

// UserID is an opaque identifier issued by the access gate. It is not required to be a UUID.
type UserID string

func NewFeedbackID() FeedbackID { return FeedbackID(uuid.New()) }
func NewReportID() ReportID     { return ReportID(uuid.New()) }

func (id FeedbackID) String() string { return uuid.UUID(id).String() }
func (id ReportID) String() string   { return uuid.UUID(id).String() }
func (id UserID) String() string     { return string(id) }

func (id FeedbackID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id ReportID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }

func (id *FeedbackID) UnmarshalText(b []byte) error {
	parsed, err := ParseFeedbackID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ReportID) UnmarshalText(b []byte) error {
	parsed, err := ParseReportID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id FeedbackID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ReportID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool     { return id == "" }

// ParseFeedbackID parses and validates a feedback identifier.
func ParseFeedbackID(s string) (FeedbackID, error) {
	u, err := parseUUID(s, "feedback id")
	if err != nil {
		return FeedbackID{}, err
	}
	return FeedbackID(u), nil
}

// ParseReportID parses and validates a report identifier.
func ParseReportID(s string) (ReportID, error) {
	u, err := parseUUID(s, "report id")
	if err != nil {
		return ReportID{}, err
	}
	return ReportID(u), nil
}

// ParseUserID trims and validates a gate-issued user identifier.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if len(s) > 128 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id must be 128 characters or less")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id must be valid UTF-8")
	}
	return UserID(s), nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be nil", field)
	}
	return u, nil
}
