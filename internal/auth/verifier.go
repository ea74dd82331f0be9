package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidCredential = errors.New("credential cannot be verified")
	ErrExpiredCredential = errors.New("credential past validity window")
	ErrNoTenantClaim     = errors.New("credential lacks a tenant binding")
)

// Claims is the verified payload of a credential. ValidUntil is checked by
// the resolver, not here, so verifier implementations stay pure.
type Claims struct {
	TenantID   string    `json:"tenant_id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	ValidUntil time.Time `json:"valid_until"`
}

// CredentialVerifier is the external credential-verification collaborator.
// Verify must fail for any token whose integrity cannot be established; it
// must not fall back to trusting unverified fields.
type CredentialVerifier interface {
	Verify(ctx context.Context, rawCredential string) (Claims, error)
}

const tokenPrefix = "raggate-v1."

// HMACVerifier verifies self-issued tokens of the form
// raggate-v1.<base64url(payload)>.<base64url(hmac-sha256)>.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Sign issues a token for the given claims. Used by provisioning tooling
// and tests; the pipeline itself only ever verifies.
func (v *HMACVerifier) Sign(claims Claims) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrInvalidCredential
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return tokenPrefix + encoded + "." + v.mac(encoded), nil
}

func (v *HMACVerifier) Verify(_ context.Context, rawCredential string) (Claims, error) {
	if len(v.secret) == 0 {
		// No signing secret means nothing can be verified: fail closed.
		return Claims{}, ErrInvalidCredential
	}
	body, ok := strings.CutPrefix(rawCredential, tokenPrefix)
	if !ok {
		return Claims{}, ErrInvalidCredential
	}
	encoded, sig, ok := strings.Cut(body, ".")
	if !ok {
		return Claims{}, ErrInvalidCredential
	}
	if !hmac.Equal([]byte(v.mac(encoded)), []byte(sig)) {
		return Claims{}, ErrInvalidCredential
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Claims{}, ErrInvalidCredential
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrInvalidCredential
	}
	return claims, nil
}

func (v *HMACVerifier) mac(encoded string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
