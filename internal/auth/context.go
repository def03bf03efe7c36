package auth

import (
	"context"
	"fmt"
)

type identityContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Gateway resolves the caller of an operation.
type Gateway interface {
	Identify(ctx context.Context) (Identity, error)
}

// ContextGateway reads the identity placed on the context by the transport layer.
type ContextGateway struct{}

func (ContextGateway) Identify(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return Identity{}, fmt.Errorf("%w: no identity on request", ErrUnauthorized)
	}
	if !id.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, id.Role)
	}
	return id, nil
}

// StaticGateway always returns the same identity. Used by CLI tools and tests.
type StaticGateway Identity

func (g StaticGateway) Identify(context.Context) (Identity, error) {
	id := Identity(g)
	if !id.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, id.Role)
	}
	return id, nil
}
