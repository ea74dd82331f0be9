package policy

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
)

// rbacModel maps roles to pipeline actions. Admin inherits everything a
// member may do, plus audit access.
const rbacModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

type rbacEnforcer struct {
	enforcer *casbin.Enforcer
}

func newRBACEnforcer() (*rbacEnforcer, error) {
	m, err := casbinmodel.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("rbac model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("rbac enforcer: %w", err)
	}
	if _, err := e.AddPolicy("member", "ask"); err != nil {
		return nil, err
	}
	if _, err := e.AddPolicy("admin", "audit:list"); err != nil {
		return nil, err
	}
	if _, err := e.AddGroupingPolicy("admin", "member"); err != nil {
		return nil, err
	}
	return &rbacEnforcer{enforcer: e}, nil
}

// allow fails closed on enforcement errors.
func (r *rbacEnforcer) allow(role, action string) bool {
	ok, err := r.enforcer.Enforce(role, action)
	if err != nil {
		return false
	}
	return ok
}
