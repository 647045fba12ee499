package access

import (
	authmw "civicproof/pkg/platform/middleware/auth"
)

// MiddlewareAdapter exposes the JWT service as the auth middleware's Authenticator.
type MiddlewareAdapter struct {
	service *JWTService
}

func NewMiddlewareAdapter(service *JWTService) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) Authenticate(credential string) (*authmw.Claims, error) {
	identity, err := a.service.Validate(credential)
	if err != nil {
		return nil, err
	}
	return &authmw.Claims{UserID: identity.UserID, Role: string(identity.Role)}, nil
}
