package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ragworks/raggate/internal/model"
)

func TestResolveValidToken(t *testing.T) {
	verifier := NewHMACVerifier("test-secret")
	token, err := verifier.Sign(Claims{
		TenantID:   "tenant-a",
		UserID:     "user-1",
		Role:       "member",
		ValidUntil: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tctx, err := NewResolver(verifier).Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !tctx.Verified() {
		t.Fatal("expected verified context")
	}
	if tctx.TenantID() != "tenant-a" || tctx.UserID() != "user-1" {
		t.Fatalf("unexpected identity: %s/%s", tctx.TenantID(), tctx.UserID())
	}
	if tctx.Role() != model.RoleMember {
		t.Fatalf("unexpected role: %s", tctx.Role())
	}
}

func TestResolveTamperedToken(t *testing.T) {
	verifier := NewHMACVerifier("test-secret")
	token, err := verifier.Sign(Claims{TenantID: "tenant-a", UserID: "user-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = NewResolver(verifier).Resolve(context.Background(), token+"x")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolveExpiredToken(t *testing.T) {
	verifier := NewHMACVerifier("test-secret")
	token, err := verifier.Sign(Claims{
		TenantID:   "tenant-a",
		UserID:     "user-1",
		ValidUntil: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = NewResolver(verifier).Resolve(context.Background(), token)
	if !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestResolveMissingTenantClaim(t *testing.T) {
	verifier := NewHMACVerifier("test-secret")
	token, err := verifier.Sign(Claims{UserID: "user-1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = NewResolver(verifier).Resolve(context.Background(), token)
	if !errors.Is(err, ErrNoTenantClaim) {
		t.Fatalf("expected ErrNoTenantClaim, got %v", err)
	}
}

func TestResolveUnknownRoleCoercedToMember(t *testing.T) {
	verifier := NewHMACVerifier("test-secret")
	token, err := verifier.Sign(Claims{TenantID: "tenant-a", UserID: "user-1", Role: "superuser"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tctx, err := NewResolver(verifier).Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tctx.Role() != model.RoleMember {
		t.Fatalf("expected role coerced to member, got %s", tctx.Role())
	}
}

func TestVerifierEmptySecretFailsClosed(t *testing.T) {
	verifier := NewHMACVerifier("")
	_, err := verifier.Verify(context.Background(), "raggate-v1.payload.sig")
	if !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestResolveFailureTimingFloor(t *testing.T) {
	verifier := NewHMACVerifier("test-secret")
	r := NewResolver(verifier)

	start := time.Now()
	_, err := r.Resolve(context.Background(), "garbage")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error for garbage credential")
	}
	if elapsed < authTimingFloor {
		t.Fatalf("failed resolution returned in %v, below the timing floor %v", elapsed, authTimingFloor)
	}
}
