package models

import (
	"strings"
	"time"

	id "civicproof/pkg/domain"
	dErrors "civicproof/pkg/domain-errors"
)

// Urgency is the citizen-declared urgency of a complaint.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// ParseUrgency validates an urgency string.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return u, nil
	default:
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown urgency %q", s)
	}
}

const (
	MinSentiment = -1.0
	MaxSentiment = 1.0

	maxFieldLength = 128
)

// Feedback is a single citizen complaint. It is immutable once created.
//
// Category and Location are nullable: feedback without both never joins a cluster.
type Feedback struct {
	ID        id.FeedbackID `json:"id"`
	AuthorID  id.UserID     `json:"author_id"`
	Category  *string       `json:"category,omitempty"`
	Location  *string       `json:"location,omitempty"`
	Urgency   Urgency       `json:"urgency"`
	Sentiment float64       `json:"sentiment"`
	CreatedAt time.Time     `json:"created_at"`
}

// IsHighUrgency reports whether the feedback counts toward a cluster's high-urgency signal.
func (f *Feedback) IsHighUrgency() bool {
	return f.Urgency == UrgencyHigh
}

// Clusterable reports whether both grouping fields are present.
func (f *Feedback) Clusterable() bool {
	return f.Category != nil && f.Location != nil
}

// NewFeedback constructs a validated Feedback. Blank category or location are stored as null.
func NewFeedback(feedbackID id.FeedbackID, author id.UserID, category, location string, urgency Urgency, sentiment float64, now time.Time) (*Feedback, error) {
	if author.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "author is required")
	}
	if _, err := ParseUrgency(string(urgency)); err != nil {
		return nil, err
	}
	if sentiment < MinSentiment || sentiment > MaxSentiment {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "sentiment must be between -1 and 1")
	}
	cat, err := optionalField("category", category)
	if err != nil {
		return nil, err
	}
	loc, err := optionalField("location", location)
	if err != nil {
		return nil, err
	}
	return &Feedback{
		ID:        feedbackID,
		AuthorID:  author,
		Category:  cat,
		Location:  loc,
		Urgency:   urgency,
		Sentiment: sentiment,
		CreatedAt: now,
	}, nil
}

func optionalField(name, value string) (*string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if len(value) > maxFieldLength {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be %d characters or less", name, maxFieldLength)
	}
	return &value, nil
}

// Filter narrows a feedback listing. Nil fields do not constrain.
type Filter struct {
	Category *string
	Location *string
	// RequireClusterable keeps only rows with both category and location present.
	RequireClusterable bool
}

// Matches applies the filter in memory.
func (f Filter) Matches(fb *Feedback) bool {
	if f.RequireClusterable && !fb.Clusterable() {
		return false
	}
	if f.Category != nil && (fb.Category == nil || *fb.Category != *f.Category) {
		return false
	}
	if f.Location != nil && (fb.Location == nil || *fb.Location != *f.Location) {
		return false
	}
	return true
}
