// Package identity defines the boundary to the identity provider. The
// engine only consumes the current identity and a change signal; the
// provider's own credential flows are out of scope.
package identity

import "context"

// Identity is the opaque view of the active user.
type Identity struct {
	UserID    string
	Anonymous bool
}

// Provider exposes the active identity and sign-in/out primitives.
//
// Changes delivers the new identity after every change, including the
// zero Identity on sign-out. The channel stays open for the provider's
// lifetime; deliveries may be coalesced under bursts.
type Provider interface {
	Current(ctx context.Context) (Identity, bool)
	Changes() <-chan Identity
	SignInAnonymously(ctx context.Context) (Identity, error)
	SignOut(ctx context.Context) error
}
