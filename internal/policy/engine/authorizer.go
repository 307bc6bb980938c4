// Package engine evaluates role authorization for guarded routes with OPA Rego.
package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const defaultQuery = "data.portal.authz.allow"

// defaultRegoPolicy allows a request when the route has no role restriction or the caller's role is listed.
const defaultRegoPolicy = `package portal.authz

default allow := false

allow if {
	count(input.allowed_roles) == 0
	input.role != ""
}

allow if {
	some r in input.allowed_roles
	r == input.role
}
`

// Authorizer decides whether an authenticated role may access a route.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) (bool, error)
}

// Request is the authorization input for one guarded request.
type Request struct {
	Role         string
	AllowedRoles []string
	Method       string
	Path         string
}

// OPAAuthorizer evaluates a Rego module prepared once at construction.
type OPAAuthorizer struct {
	query rego.PreparedEvalQuery
}

// NewOPAAuthorizer compiles the built-in policy.
func NewOPAAuthorizer(ctx context.Context) (*OPAAuthorizer, error) {
	return NewOPAAuthorizerWithPolicy(ctx, defaultRegoPolicy)
}

// NewOPAAuthorizerWithPolicy compiles module, which must define data.portal.authz.allow.
func NewOPAAuthorizerWithPolicy(ctx context.Context, module string) (*OPAAuthorizer, error) {
	compiler, err := ast.CompileModules(map[string]string{"authz.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile authz policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare authz policy: %w", err)
	}
	return &OPAAuthorizer{query: q}, nil
}

// Authorize evaluates the policy for req. An undefined result denies.
func (a *OPAAuthorizer) Authorize(ctx context.Context, req Request) (bool, error) {
	roles := req.AllowedRoles
	if roles == nil {
		roles = []string{}
	}
	input := map[string]interface{}{
		"role":          req.Role,
		"allowed_roles": roles,
		"method":        req.Method,
		"path":          req.Path,
	}
	rs, err := a.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval authz policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck evaluates a known-allowed input. Returns nil when the engine answers as expected.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	ok, err := a.Authorize(ctx, Request{Role: "ADMIN", AllowedRoles: []string{"ADMIN"}, Method: "GET", Path: "/admin"})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("authz policy denied health probe")
	}
	return nil
}
