package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config holds the OIDC client registration
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Provider talks to an OIDC identity provider
type Provider struct {
	oauth    oauth2.Config
	verifier *oidc.IDTokenVerifier
}

var _ Refresher = (*Provider)(nil)

// idClaims are the standard OIDC profile claims we read from ID tokens
type idClaims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// NewProvider discovers the issuer's endpoints and builds a provider
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("identity issuer is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("identity client ID is required")
	}

	op, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}

	return &Provider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     op.Endpoint(),
			Scopes:       scopes,
		},
		verifier: op.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// WithRedirectURL returns a copy of the provider using a different redirect URL
func (p *Provider) WithRedirectURL(redirectURL string) *Provider {
	c := *p
	c.oauth.RedirectURL = redirectURL
	return &c
}

// AuthCodeURL builds the authorization URL for the PKCE code flow
func (p *Provider) AuthCodeURL(state, verifier string, opts ...oauth2.AuthCodeOption) string {
	opts = append([]oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)}, opts...)
	return p.oauth.AuthCodeURL(state, opts...)
}

// SignUpOption asks the provider to show its registration screen
var SignUpOption = oauth2.SetAuthURLParam("prompt", "create")

// Exchange trades an authorization code for credentials
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*Credentials, error) {
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return p.credentialsFromToken(ctx, token, nil)
}

// Refresh uses the refresh token to obtain a new access token
func (p *Provider) Refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	if creds == nil || creds.RefreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	// An already-expired token forces the source to hit the token endpoint
	src := p.oauth.TokenSource(ctx, &oauth2.Token{
		RefreshToken: creds.RefreshToken,
		Expiry:       time.Unix(1, 0),
	})
	token, err := src.Token()
	if err != nil {
		return nil, err
	}
	return p.credentialsFromToken(ctx, token, creds)
}

func (p *Provider) credentialsFromToken(ctx context.Context, token *oauth2.Token, previous *Credentials) (*Credentials, error) {
	creds := &Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if previous != nil {
		if creds.RefreshToken == "" {
			creds.RefreshToken = previous.RefreshToken
		}
		creds.IDToken = previous.IDToken
		creds.User = previous.User
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		if previous == nil {
			return nil, errors.New("identity provider did not return an ID token")
		}
		return creds, nil
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	creds.IDToken = rawIDToken
	creds.User = Profile{
		ID:        idToken.Subject,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		ImageURL:  claims.Picture,
	}
	return creds, nil
}

// NewState returns a random value for the OAuth state parameter
func NewState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// NewVerifier returns a PKCE code verifier
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}
