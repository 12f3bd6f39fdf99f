// Package auth turns request credentials into a Principal. Two credential paths exist:
// a bearer token issued by the external identity provider, and a static admin secret
// sent in a dedicated header. A request may present at most one of them.
package auth

import "context"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated caller for one request. UserID is empty for
// admin-secret principals.
type Principal struct {
	UserID string
	Role   Role
	Email  string
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Method is a bitmask of credential paths a route accepts.
type Method uint8

const (
	Session Method = 1 << iota
	Admin
)

func (m Method) accepts(other Method) bool { return m&other != 0 }

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal set by Gate.Require.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
