package handler

import (
	"strings"

	"civicproof/internal/feedback/models"
	dErrors "civicproof/pkg/domain-errors"
)

// SubmitRequest is the body of POST /feedback.
type SubmitRequest struct {
	Category  string   `json:"category"`
	Location  string   `json:"location"`
	Urgency   string   `json:"urgency"`
	Sentiment *float64 `json:"sentiment"`

	parsedUrgency models.Urgency
}

// Validate implements httputil.Validatable.
func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Sentiment == nil {
		return dErrors.New(dErrors.CodeValidation, "sentiment is required")
	}
	urgency, err := models.ParseUrgency(r.Urgency)
	if err != nil {
		return err
	}
	r.parsedUrgency = urgency
	r.Category = strings.TrimSpace(r.Category)
	r.Location = strings.TrimSpace(r.Location)
	return nil
}

func (r *SubmitRequest) ParsedUrgency() models.Urgency {
	return r.parsedUrgency
}
