package auth

import (
	"context"
	"strings"
)

type ctxKey struct{}

// User represents the authenticated customer of the current request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	// Token is forwarded to the storefront API as a bearer credential.
	Token string `json:"-"`
}

// WithUser stores user in context.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the user if present. A nil result means the visitor is logged out.
func UserFromContext(ctx context.Context) *User {
	if ctx == nil {
		return nil
	}
	if u, ok := ctx.Value(ctxKey{}).(*User); ok && u != nil && strings.TrimSpace(u.ID) != "" {
		return u
	}
	return nil
}
