// Package audit records report lifecycle events. Events go to the structured log and,
// when Kafka is configured, to the report topic for downstream consumers.
package audit

import (
	"time"
)

// Action names a lifecycle step.
type Action string

const (
	ActionReportGenerated  Action = "report_generated"
	ActionReportSuperseded Action = "report_superseded"
	ActionAnchorClaimed    Action = "anchor_claimed"
	ActionAnchorSubmitted  Action = "anchor_submitted"
	ActionAnchorConfirmed  Action = "anchor_confirmed"
	ActionAnchorFailed     Action = "anchor_failed"
	ActionAnchorReleased   Action = "anchor_released"
	ActionAnchorReconciled Action = "anchor_reconciled"
)

// Event is transport-agnostic so sinks can fan out.
type Event struct {
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	ReportID  string    `json:"report_id"`
	Category  string    `json:"category"`
	Location  string    `json:"location"`
	ActorID   string    `json:"actor_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	// Status is the anchor status after the step.
	Status string `json:"status,omitempty"`
	TxRef  string `json:"tx_ref,omitempty"`
	Reason string `json:"reason,omitempty"`
}
