package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/invobilled/invobilled/internal/client"
)

var (
	// ErrNotSignedIn is returned by a TokenStore that holds no credentials
	ErrNotSignedIn = errors.New("not signed in")

	// ErrNoRefreshToken is returned when a fresh token is required but cannot be obtained
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// Profile is the user identity captured at sign-in
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// Credentials stores the tokens issued by the identity provider
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         Profile   `json:"user"`
}

// Expiry returns when the access token expires. If no expiry was recorded,
// the token's own exp claim is used. The zero time means unknown.
func (c *Credentials) Expiry() time.Time {
	if !c.ExpiresAt.IsZero() {
		return c.ExpiresAt
	}
	exp, err := TokenExpiry(c.AccessToken)
	if err != nil {
		return time.Time{}
	}
	return exp
}

// ExpiresWithin reports whether the access token expires before now+leeway
func (c *Credentials) ExpiresWithin(now time.Time, leeway time.Duration) bool {
	exp := c.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(exp)
}

func (p Profile) toUser() client.User {
	return client.User{
		ID:           p.ID,
		PrimaryEmail: p.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		ImageURL:     p.ImageURL,
	}
}

// TokenExpiry reads the exp claim of a JWT without verifying it.
// The backend verifies tokens; this is only used to decide when to refresh.
func TokenExpiry(token string) (time.Time, error) {
	if token == "" {
		return time.Time{}, ErrNotSignedIn
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
