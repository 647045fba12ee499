package testutil

import (
	"net/http"

	id "civicproof/pkg/domain"
	"civicproof/pkg/requestcontext"
)

// WithIdentity adds a user ID and role to the request context, as the auth middleware
// would after validating a bearer token. An invalid user ID leaves the request anonymous.
func WithIdentity(req *http.Request, userID, role string) *http.Request {
	parsed, err := id.ParseUserID(userID)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithIdentity(req.Context(), parsed, role))
}

// AsGovernment marks the request as coming from a government officer.
func AsGovernment(req *http.Request) *http.Request {
	return WithIdentity(req, "officer-1", "government")
}

// AsCitizen marks the request as coming from the given citizen.
func AsCitizen(req *http.Request, userID string) *http.Request {
	return WithIdentity(req, userID, "citizen")
}
