package model

import "time"

// Role distinguishes privilege levels within a tenant.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// TenantContext is the verified identity of the caller for the lifetime of
// one request. It is produced exclusively by the auth resolver from a
// verified credential; client-supplied tenant fields are never consulted.
//
// The unexported verified flag makes a hand-built TenantContext unusable
// downstream: retrieval and generation refuse any context that did not come
// out of NewTenantContext.
type TenantContext struct {
	tenantID string
	userID   string
	role     Role
	verified bool
}

// NewTenantContext builds a verified context. Only the auth resolver should
// call this.
func NewTenantContext(tenantID, userID string, role Role) *TenantContext {
	return &TenantContext{
		tenantID: tenantID,
		userID:   userID,
		role:     role,
		verified: true,
	}
}

func (t *TenantContext) TenantID() string { return t.tenantID }
func (t *TenantContext) UserID() string   { return t.userID }
func (t *TenantContext) Role() Role       { return t.role }

// Verified reports whether this context was produced by the resolver.
func (t *TenantContext) Verified() bool {
	return t != nil && t.verified && t.tenantID != ""
}

// RateKey is the tenant+user key used for rate-limit counters.
func (t *TenantContext) RateKey() string {
	return t.tenantID + ":" + t.userID
}

// RequestEnvelope carries one request through the pipeline. Downstream
// stages treat it as read-only except for the sanitized-query replacement
// performed by the input safety filter.
type RequestEnvelope struct {
	RequestID      string
	ChatbotID      string
	RawQuery       string
	SanitizedQuery string
	Tenant         *TenantContext
	ReceivedAt     time.Time
}

// Query returns the sanitized query once the input filter has run, and the
// raw query before that.
func (e *RequestEnvelope) Query() string {
	if e.SanitizedQuery != "" {
		return e.SanitizedQuery
	}
	return e.RawQuery
}
