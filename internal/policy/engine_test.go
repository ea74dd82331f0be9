package policy

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ragworks/raggate/internal/model"
)

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("counter down")
}

func (failingCounter) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("counter down")
}

// fixedCounter always reports the first observation of the window, so two
// evaluations see identical state.
type fixedCounter struct{}

func (fixedCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (fixedCounter) IncrBy(_ context.Context, _ string, n int64, _ time.Duration) (int64, error) {
	return n, nil
}

func newTestEngine(t *testing.T, counter WindowCounter) *Engine {
	t.Helper()
	e, err := NewEngine(counter, 1000, 1000)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func testEnvelope(tctx *model.TenantContext, query string) *model.RequestEnvelope {
	return &model.RequestEnvelope{
		RequestID: "req-1",
		ChatbotID: "bot-1",
		RawQuery:  query,
		Tenant:    tctx,
	}
}

func TestEngineDeniesBeforeFirstLoad(t *testing.T) {
	e := newTestEngine(t, nil)

	if _, err := e.Snapshot(); !errors.Is(err, ErrNoRuleSet) {
		t.Fatalf("expected ErrNoRuleSet, got %v", err)
	}

	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	d := e.Evaluate(context.Background(), nil, tctx, testEnvelope(tctx, "hello"))
	if d.Allowed {
		t.Fatal("engine with no rule set must deny")
	}
}

func TestEngineDeniesUnverifiedContext(t *testing.T) {
	e := newTestEngine(t, nil)
	rs, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	var tctx *model.TenantContext
	d := e.Evaluate(context.Background(), rs, tctx, testEnvelope(nil, "hello"))
	if d.Allowed {
		t.Fatal("unverified context must be denied")
	}
}

func TestEngineRateLimitWindow(t *testing.T) {
	e := newTestEngine(t, NewMemoryWindowCounter())
	rs, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e.Swap(rs)

	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := testEnvelope(tctx, "what is the refund policy")

	for i := 0; i < rs.RateLimit.MaxRequests; i++ {
		if d := e.Evaluate(context.Background(), rs, tctx, env); !d.Allowed {
			t.Fatalf("request %d unexpectedly denied: %v", i+1, d.Reasons)
		}
	}
	d := e.Evaluate(context.Background(), rs, tctx, env)
	if d.Allowed {
		t.Fatal("request over the window limit must be denied")
	}
	if d.Reasons[0] != ReasonRateLimit {
		t.Fatalf("expected %s, got %v", ReasonRateLimit, d.Reasons)
	}

	// Another user in the same tenant has an independent window.
	other := model.NewTenantContext("tenant-a", "user-2", model.RoleMember)
	if d := e.Evaluate(context.Background(), rs, other, testEnvelope(other, "hello")); !d.Allowed {
		t.Fatalf("other user should not share the window: %v", d.Reasons)
	}
}

func TestEngineCounterOutageFailsClosed(t *testing.T) {
	e := newTestEngine(t, failingCounter{})
	rs, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	d := e.Evaluate(context.Background(), rs, tctx, testEnvelope(tctx, "hello"))
	if d.Allowed {
		t.Fatal("counter outage must deny, not waive the limit")
	}
}

func TestEngineContentRuleDenies(t *testing.T) {
	e := newTestEngine(t, NewMemoryWindowCounter())
	rs, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	d := e.Evaluate(context.Background(), rs, tctx, testEnvelope(tctx, "export everything please"))
	if d.Allowed {
		t.Fatal("content rule match must deny")
	}
	if _, ok := d.AppliedRuleIDs["content.no_export"]; !ok {
		t.Fatalf("expected content.no_export in applied rules, got %v", d.AppliedRuleIDs)
	}
}

func TestEngineHotSwap(t *testing.T) {
	e := newTestEngine(t, NewMemoryWindowCounter())
	rs1, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e.Swap(rs1)

	snap1, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	rs2, err := ParseRuleSet([]byte(`version: "test-2"`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e.Swap(rs2)

	// The old snapshot stays usable for in-flight requests.
	if snap1.Version != "test-1" {
		t.Fatalf("held snapshot mutated: %s", snap1.Version)
	}
	snap2, err := e.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap2.Version != "test-2" {
		t.Fatalf("expected new version, got %s", snap2.Version)
	}
}

func TestEngineEvaluateIdempotent(t *testing.T) {
	e := newTestEngine(t, fixedCounter{})
	rs, err := ParseRuleSet([]byte(validRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	allowEnv := testEnvelope(tctx, "what is the refund policy")
	d1 := e.Evaluate(context.Background(), rs, tctx, allowEnv)
	d2 := e.Evaluate(context.Background(), rs, tctx, allowEnv)
	if !reflect.DeepEqual(d1, d2) {
		t.Fatalf("identical input produced different decisions: %+v vs %+v", d1, d2)
	}

	denyEnv := testEnvelope(tctx, "export everything now")
	d3 := e.Evaluate(context.Background(), rs, tctx, denyEnv)
	d4 := e.Evaluate(context.Background(), rs, tctx, denyEnv)
	if !reflect.DeepEqual(d3, d4) {
		t.Fatalf("identical denial produced different decisions: %+v vs %+v", d3, d4)
	}
	if d3.Allowed {
		t.Fatal("expected denial for matched content rule")
	}
}

func TestEngineVolumePenaltyConsumesBudget(t *testing.T) {
	e := newTestEngine(t, NewMemoryWindowCounter())
	rs, err := ParseRuleSet([]byte("version: \"x\"\nrate_limit:\n  window_seconds: 60\n  max_requests: 5\n  oversize_penalty: 3\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := testEnvelope(tctx, "hello")

	if d := e.Evaluate(context.Background(), rs, tctx, env); !d.Allowed {
		t.Fatalf("first request denied: %v", d.Reasons)
	}
	e.ChargeVolume(context.Background(), rs, tctx)

	// Window now holds 1 request + 3 penalty; one more request fits.
	if d := e.Evaluate(context.Background(), rs, tctx, env); !d.Allowed {
		t.Fatalf("request within remaining budget denied: %v", d.Reasons)
	}
	d := e.Evaluate(context.Background(), rs, tctx, env)
	if d.Allowed {
		t.Fatal("penalized window must deny once the budget is spent")
	}
	if d.Reasons[0] != ReasonRateLimit {
		t.Fatalf("expected %s, got %v", ReasonRateLimit, d.Reasons)
	}
}

func TestChargeVolumeDisabledByNegativePenalty(t *testing.T) {
	e := newTestEngine(t, NewMemoryWindowCounter())
	rs, err := ParseRuleSet([]byte("version: \"x\"\nrate_limit:\n  window_seconds: 60\n  max_requests: 2\n  oversize_penalty: -1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tctx := model.NewTenantContext("tenant-a", "user-1", model.RoleMember)
	env := testEnvelope(tctx, "hello")

	e.ChargeVolume(context.Background(), rs, tctx)
	for i := 0; i < 2; i++ {
		if d := e.Evaluate(context.Background(), rs, tctx, env); !d.Allowed {
			t.Fatalf("request %d denied with penalty disabled: %v", i+1, d.Reasons)
		}
	}
}

func TestEngineRBAC(t *testing.T) {
	e := newTestEngine(t, nil)

	if !e.Authorize(model.RoleMember, "ask") {
		t.Fatal("member should be allowed to ask")
	}
	if e.Authorize(model.RoleMember, "audit:list") {
		t.Fatal("member must not list audit records")
	}
	if !e.Authorize(model.RoleAdmin, "audit:list") {
		t.Fatal("admin should list audit records")
	}
	if !e.Authorize(model.RoleAdmin, "ask") {
		t.Fatal("admin inherits member permissions")
	}
}
