// Package policy holds the routing policy table that decides which paths need a session and which roles.
package policy

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Class is how a request path is guarded.
type Class int

const (
	// ClassProtected requires a valid session; AllowedRoles, when non-empty, restricts the role.
	ClassProtected Class = iota
	// ClassPublic needs no session.
	ClassPublic
)

func (c Class) String() string {
	if c == ClassPublic {
		return "public"
	}
	return "protected"
}

// RoleRule gates a path prefix to a set of roles.
type RoleRule struct {
	Prefix string
	Roles  []string
}

// PatternRule gates mutating requests on API paths matching Pattern to a set of roles.
type PatternRule struct {
	Pattern string
	Roles   []string
}

// Table is the declarative routing policy. Rules are checked in field order; the first match wins
// and unmatched paths are protected without a role restriction.
type Table struct {
	AlwaysProtected   []RoleRule
	AuthenticatedOnly []string
	Public            []string
	AdminWrite        []PatternRule
}

// Decision is the classification of one request.
type Decision struct {
	Class        Class
	AllowedRoles []string
	// API reports whether the path is under /api/, which answers with JSON instead of redirects.
	API bool
}

// Policy is a compiled, validated Table. It is immutable and safe for concurrent use.
type Policy struct {
	table      Table
	public     []*regexp.Regexp
	adminWrite []*regexp.Regexp
}

// Compile validates t and compiles its patterns.
func Compile(t Table) (*Policy, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	p := &Policy{table: t}
	for _, expr := range t.Public {
		p.public = append(p.public, regexp.MustCompile(expr))
	}
	for _, r := range t.AdminWrite {
		p.adminWrite = append(p.adminWrite, regexp.MustCompile(r.Pattern))
	}
	return p, nil
}

// Validate rejects empty prefixes, empty role sets and invalid patterns.
func (t Table) Validate() error {
	var errs []error
	for i, r := range t.AlwaysProtected {
		if !strings.HasPrefix(r.Prefix, "/") {
			errs = append(errs, fmt.Errorf("always-protected rule %d: prefix %q must start with /", i, r.Prefix))
		}
		if len(r.Roles) == 0 {
			errs = append(errs, fmt.Errorf("always-protected rule %q: no roles", r.Prefix))
		}
	}
	for _, prefix := range t.AuthenticatedOnly {
		if !strings.HasPrefix(prefix, "/") {
			errs = append(errs, fmt.Errorf("authenticated-only prefix %q must start with /", prefix))
		}
	}
	for _, expr := range t.Public {
		if _, err := regexp.Compile(expr); err != nil {
			errs = append(errs, fmt.Errorf("public pattern %q: %w", expr, err))
		}
	}
	for _, r := range t.AdminWrite {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("admin-write pattern %q: %w", r.Pattern, err))
		}
		if len(r.Roles) == 0 {
			errs = append(errs, fmt.Errorf("admin-write pattern %q: no roles", r.Pattern))
		}
	}
	return errors.Join(errs...)
}

// Classify returns the decision for method and path.
func (p *Policy) Classify(method, path string) Decision {
	d := Decision{Class: ClassProtected, API: isAPI(path)}
	for _, r := range p.table.AlwaysProtected {
		if hasPathPrefix(path, r.Prefix) {
			d.AllowedRoles = r.Roles
			return d
		}
	}
	for _, prefix := range p.table.AuthenticatedOnly {
		if hasPathPrefix(path, prefix) {
			return d
		}
	}
	for _, re := range p.public {
		if re.MatchString(path) {
			d.Class = ClassPublic
			return d
		}
	}
	if d.API {
		for i, re := range p.adminWrite {
			if !re.MatchString(path) {
				continue
			}
			if !isWrite(method) {
				d.Class = ClassPublic
				return d
			}
			d.AllowedRoles = p.table.AdminWrite[i].Roles
			return d
		}
	}
	return d
}

func isAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// DefaultTable is the policy for the consultancy site: catalog pages and auth endpoints are public,
// student areas need a session, the admin area and catalog writes need ADMIN.
func DefaultTable() Table {
	admin := []string{"ADMIN"}
	return Table{
		AlwaysProtected: []RoleRule{
			{Prefix: "/admin", Roles: admin},
			{Prefix: "/api/admin", Roles: admin},
		},
		AuthenticatedOnly: []string{
			"/dashboard",
			"/profile",
			"/applications",
			"/api/applications",
			"/api/profile",
			"/api/auth/logout",
			"/api/auth/logout-all",
		},
		Public: []string{
			`^/$`,
			`^/(about|contact|services|universities|events|accommodations|loans|blog)(/.*)?$`,
			`^/(signin|signup|verify-email|forgot-password|reset-password)$`,
			`^/api/auth/(login|signup|verify-token)$`,
			`^/api/session/validateSession$`,
			`^/api/contact$`,
			`^/(healthz|readyz|metrics)$`,
			`^/(_next|static|images)/`,
			`^/favicon\.ico$`,
		},
		AdminWrite: []PatternRule{
			{Pattern: `^/api/(universities|events|accommodations|loans|blog)(/.*)?$`, Roles: admin},
		},
	}
}
