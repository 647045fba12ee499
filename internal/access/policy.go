package access

import (
	"context"

	dErrors "civicproof/pkg/domain-errors"
	"civicproof/pkg/requestcontext"
)

// RequireReportAccess allows report generation, listing, anchoring and verification only
// to government callers.
func RequireReportAccess(ctx context.Context) error {
	if requestcontext.UserID(ctx).IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if Role(requestcontext.Role(ctx)) != RoleGovernment {
		return dErrors.New(dErrors.CodeForbidden, "government role required")
	}
	return nil
}

// DiagnosticsPolicy gates wallet and environment diagnostics.
type DiagnosticsPolicy struct {
	Production bool
}

// Allow reports whether the caller in ctx may read diagnostics. Outside production anyone
// may; in production only admins.
func (p DiagnosticsPolicy) Allow(ctx context.Context) error {
	if !p.Production {
		return nil
	}
	if requestcontext.UserID(ctx).IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if Role(requestcontext.Role(ctx)) != RoleAdmin {
		return dErrors.New(dErrors.CodeForbidden, "diagnostics are restricted in production")
	}
	return nil
}
