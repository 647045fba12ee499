package models

import (
	"strings"
	"time"

	dErrors "civicproof/pkg/domain-errors"
)

// DefaultMinFeedbackCount is the smallest cluster considered reportable unless policy
// overrides it.
const DefaultMinFeedbackCount = 3

// Key groups feedback by the literal (category, location) pair.
type Key struct {
	Category string `json:"category"`
	Location string `json:"location"`
}

// NewKey trims and validates both parts.
func NewKey(category, location string) (Key, error) {
	k := Key{Category: strings.TrimSpace(category), Location: strings.TrimSpace(location)}
	if k.Category == "" || k.Location == "" {
		return Key{}, dErrors.New(dErrors.CodeInvalidInput, "category and location are required")
	}
	return k, nil
}

func (k Key) String() string {
	return k.Category + "@" + k.Location
}

// Cluster is derived from the current feedback rows matching its key. It has no lifecycle
// of its own.
type Cluster struct {
	Key              Key       `json:"key"`
	FeedbackCount    int       `json:"feedback_count"`
	HighUrgencyCount int       `json:"high_urgency_count"`
	AvgSentiment     float64   `json:"avg_sentiment"`
	LatestFeedbackAt time.Time `json:"latest_feedback_at"`
	Reportable       bool      `json:"reportable"`
}

// Less orders clusters for reporting: larger first, then more urgent, then by key so equal
// inputs always produce the same sequence.
func Less(a, b Cluster) bool {
	if a.FeedbackCount != b.FeedbackCount {
		return a.FeedbackCount > b.FeedbackCount
	}
	if a.HighUrgencyCount != b.HighUrgencyCount {
		return a.HighUrgencyCount > b.HighUrgencyCount
	}
	if a.Key.Category != b.Key.Category {
		return a.Key.Category < b.Key.Category
	}
	return a.Key.Location < b.Key.Location
}
