package client

import (
	"context"
	"time"
)

// RefreshLeeway is the clock-skew allowance requested when forcing a fresh token
const RefreshLeeway = 60 * time.Second

// User is the identity attached to a signed-in session
type User struct {
	ID           string
	PrimaryEmail string
	FirstName    string
	LastName     string
	ImageURL     string
}

// TokenOptions controls how a Session produces a token
type TokenOptions struct {
	// SkipCache forces the session to obtain a new token from the identity provider
	SkipCache bool
	// Leeway treats a cached token as expired this long before its real expiry
	Leeway time.Duration
}

// Session is the identity capability the client depends on.
// Implementations are owned by the identity provider integration; the client
// only reads from them and never stores tokens itself.
type Session interface {
	// IsLoaded reports whether the session finished loading its state
	IsLoaded() bool

	// IsSignedIn reports whether a user is signed in
	IsSignedIn() bool

	// User returns the signed-in user, if any
	User() (User, bool)

	// GetToken returns a bearer token, or "" when none is available
	GetToken(ctx context.Context, opts TokenOptions) (string, error)

	// RedirectToSignIn sends the user back through sign-in
	RedirectToSignIn(ctx context.Context)
}
