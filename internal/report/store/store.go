// Package store persists reports. Anchor state changes are conditional updates so that
// concurrent callers cannot move a report through the same transition twice.
package store

import (
	"time"

	"civicproof/internal/report/models"
)

// ClaimParams bounds which reports may enter pending.
type ClaimParams struct {
	MaxAttempts int
	// AllowSuperseded permits anchoring reports that a newer report replaced.
	AllowSuperseded bool
	Now             time.Time
}

// claimable mirrors the WHERE clause of the Postgres claim.
func claimable(r *models.Report, p ClaimParams) bool {
	if r.IsSuperseded() && !p.AllowSuperseded {
		return false
	}
	return r.Claimable(p.MaxAttempts)
}
