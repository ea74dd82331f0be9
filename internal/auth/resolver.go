package auth

import (
	"context"
	"time"

	"github.com/ragworks/raggate/internal/model"
)

// authTimingFloor is the minimum latency of a failed resolution, so that
// invalid and unknown credentials are indistinguishable by timing.
const authTimingFloor = 50 * time.Millisecond

// Resolver derives the immutable TenantContext for a request from a raw
// credential. It is the only producer of TenantContext in the system;
// tenant identifiers transmitted outside the credential are ignored
// entirely.
type Resolver struct {
	verifier CredentialVerifier
	now      func() time.Time
}

func NewResolver(verifier CredentialVerifier) *Resolver {
	return &Resolver{verifier: verifier, now: time.Now}
}

// Resolve verifies the credential and returns a verified context, or one of
// ErrInvalidCredential, ErrExpiredCredential, ErrNoTenantClaim.
func (r *Resolver) Resolve(ctx context.Context, rawCredential string) (*model.TenantContext, error) {
	start := r.now()
	claims, err := r.verifier.Verify(ctx, rawCredential)
	if err != nil {
		r.enforceTimingFloor(start)
		return nil, ErrInvalidCredential
	}
	if !claims.ValidUntil.IsZero() && r.now().After(claims.ValidUntil) {
		r.enforceTimingFloor(start)
		return nil, ErrExpiredCredential
	}
	if claims.TenantID == "" {
		r.enforceTimingFloor(start)
		return nil, ErrNoTenantClaim
	}

	role := model.Role(claims.Role)
	if role != model.RoleAdmin {
		role = model.RoleMember
	}
	return model.NewTenantContext(claims.TenantID, claims.UserID, role), nil
}

func (r *Resolver) enforceTimingFloor(start time.Time) {
	if elapsed := r.now().Sub(start); elapsed < authTimingFloor {
		time.Sleep(authTimingFloor - elapsed)
	}
}
