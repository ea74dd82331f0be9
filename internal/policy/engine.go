package policy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ragworks/raggate/internal/model"
	"github.com/ragworks/raggate/internal/pkg/logger"
	"github.com/ragworks/raggate/internal/pkg/metrics"
)

// ErrNoRuleSet is returned while no rule set has ever loaded successfully.
// The engine fails closed in that state: every evaluation denies.
var ErrNoRuleSet = errors.New("no policy rule set loaded")

const (
	ReasonRateLimit         = "rate_limit"
	ReasonDomainRestriction = "domain_restriction"
	ReasonContentRule       = "content_rule"
	ReasonUnavailable       = "policy_unavailable"
	ReasonForbiddenRole     = "forbidden_role"
)

// Engine evaluates policy rules against requests. The rule set is
// read-mostly state swapped atomically on reload, so readers never block
// and in-flight requests observe a consistent version. The only mutable
// cross-request state is the rate-limit counter, which increments
// atomically per tenant+user key.
type Engine struct {
	current  atomic.Pointer[RuleSet]
	counter  WindowCounter
	enforcer *rbacEnforcer

	qps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewEngine builds an engine with no rule set loaded. Call Reload (or
// Swap in tests) before serving traffic; until then all evaluations deny.
func NewEngine(counter WindowCounter, qps float64, burst int) (*Engine, error) {
	enforcer, err := newRBACEnforcer()
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = NewMemoryWindowCounter()
	}
	if qps <= 0 {
		qps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &Engine{
		counter:  counter,
		enforcer: enforcer,
		qps:      qps,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Reload loads the rule file at path and swaps it in atomically. On
// failure the previous rule set stays active and the error is returned.
func (e *Engine) Reload(path string) error {
	rs, err := LoadRuleSet(path)
	if err != nil {
		metrics.RuleSetReloads.WithLabelValues("failure").Inc()
		return err
	}
	e.Swap(rs)
	metrics.RuleSetReloads.WithLabelValues("success").Inc()
	logger.Info("policy rule set loaded", "version", rs.Version)
	return nil
}

// Swap installs a rule set directly. Exposed for tests with fixture sets.
func (e *Engine) Swap(rs *RuleSet) {
	e.current.Store(rs)
}

// Snapshot returns the active rule set. Callers hold one snapshot for the
// whole request so every stage sees the same version.
func (e *Engine) Snapshot() (*RuleSet, error) {
	rs := e.current.Load()
	if rs == nil {
		return nil, ErrNoRuleSet
	}
	return rs, nil
}

// Evaluate runs the request-stage policy checks: burst limiter, sliding
// window rate limit, role permission, and request-stage content rules.
// It is pure given the rule-set version and request data, apart from the
// atomic counter increment.
func (e *Engine) Evaluate(ctx context.Context, rs *RuleSet, tctx *model.TenantContext, env *model.RequestEnvelope) model.PolicyDecision {
	if rs == nil {
		return model.Deny(ReasonUnavailable)
	}
	if !tctx.Verified() {
		return model.Deny(ReasonForbiddenRole)
	}

	if !e.Authorize(tctx.Role(), "ask") {
		return model.Deny(ReasonForbiddenRole)
	}

	if !e.limiterFor(tctx.TenantID()).Allow() {
		metrics.RateLimitRejects.Inc()
		return model.Deny(ReasonRateLimit)
	}

	if rs.RateLimit.MaxRequests > 0 {
		count, err := e.counter.Incr(ctx, tctx.RateKey(), rs.RateLimit.Window)
		if err != nil {
			// Counter outage: fail closed rather than waive the limit.
			logger.Warn("rate-limit counter unavailable", "error", err.Error())
			return model.Deny(ReasonRateLimit)
		}
		if count > int64(rs.RateLimit.MaxRequests) {
			metrics.RateLimitRejects.Inc()
			return model.Deny(ReasonRateLimit)
		}
	}

	matched := rs.EvalContentRules(StageRequest, map[string]any{
		"query":      env.Query(),
		"chatbot_id": env.ChatbotID,
		"role":       string(tctx.Role()),
	})
	if len(matched) > 0 {
		return model.Deny(ReasonContentRule, matched...)
	}

	return model.Allow(matched...)
}

// ChargeVolume consumes extra rate-limit budget for a request whose input
// was flagged as a volume signal, so repeated oversized submissions exhaust
// the window sooner than their request count alone would. The current
// request is not re-checked; the charge lands on the next evaluations.
func (e *Engine) ChargeVolume(ctx context.Context, rs *RuleSet, tctx *model.TenantContext) {
	if rs == nil || rs.RateLimit.MaxRequests <= 0 || !tctx.Verified() {
		return
	}
	weight := rs.RateLimit.OversizePenalty
	if weight <= 0 {
		return
	}
	if _, err := e.counter.IncrBy(ctx, tctx.RateKey(), int64(weight), rs.RateLimit.Window); err != nil {
		logger.Warn("volume penalty not recorded", "error", err.Error())
	}
}

// Authorize checks the role-to-action permission via the embedded RBAC
// model.
func (e *Engine) Authorize(role model.Role, action string) bool {
	return e.enforcer.allow(string(role), action)
}

// limiterFor returns the per-tenant burst limiter, creating it on first
// use, the same way tenants register with the gateway.
func (e *Engine) limiterFor(tenantID string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.qps), e.burst)
		e.limiters[tenantID] = l
	}
	return l
}
