package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/invobilled/invobilled/internal/pkg/metrics"
)

type retryKey struct{}

// retryState marks an original request as already retried.
// It is scoped to one call of Client.Do and never shared between requests.
type retryState struct {
	retried bool
}

func withRetryState(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, &retryState{})
}

func retryStateFrom(ctx context.Context) *retryState {
	if state, ok := ctx.Value(retryKey{}).(*retryState); ok {
		return state
	}
	return &retryState{}
}

// AuthInterceptor attaches session tokens to outgoing API requests and
// refreshes the token once when the backend answers 401
type AuthInterceptor struct {
	session    Session
	base       http.RoundTripper
	isExternal func(*http.Request) bool
	log        *slog.Logger
}

// NewAuthInterceptor creates a new auth interceptor.
// isExternal decides which requests are passed through untouched.
func NewAuthInterceptor(session Session, base http.RoundTripper, isExternal func(*http.Request) bool, logger *slog.Logger) *AuthInterceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	if isExternal == nil {
		isExternal = func(*http.Request) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthInterceptor{
		session:    session,
		base:       base,
		isExternal: isExternal,
		log:        logger.With(slog.String("component", "auth_interceptor")),
	}
}

// RoundTrip implements http.RoundTripper
func (a *AuthInterceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	if a.isExternal(req) {
		return a.base.RoundTrip(req)
	}

	ctx := req.Context()
	out := req.Clone(ctx)
	a.attachToken(ctx, out)

	resp, err := a.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	state := retryStateFrom(ctx)
	if state.retried || !replayable(out) {
		return resp, nil
	}
	state.retried = true
	discard(resp)

	a.log.Info("received 401, forcing token refresh",
		slog.String("method", out.Method),
		slog.String("url", out.URL.String()))

	token, refreshErr := a.session.GetToken(ctx, TokenOptions{SkipCache: true, Leeway: RefreshLeeway})
	if refreshErr != nil || token == "" {
		metrics.TokenRefreshes.WithLabelValues("failed").Inc()
		if refreshErr != nil {
			a.log.Error("error refreshing token", slog.String("error", refreshErr.Error()))
		} else {
			a.log.Warn("identity provider returned no fresh token")
		}
		return nil, a.expire(ctx, out, refreshErr)
	}
	metrics.TokenRefreshes.WithLabelValues("refreshed").Inc()

	retry, err := rewind(out)
	if err != nil {
		return nil, &APIError{
			Kind:    KindRequestSetup,
			Method:  out.Method,
			URL:     out.URL.String(),
			Message: MsgRequestSetup,
			Err:     err,
		}
	}
	setAuthHeaders(retry, token)

	a.log.Debug("retrying request with refreshed token")
	resp, err = a.base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		a.log.Warn("request still unauthorized after token refresh")
		return nil, a.expire(ctx, retry, nil)
	}
	return resp, nil
}

// attachToken adds the current session token. Failures never block the request;
// the backend is responsible for rejecting unauthenticated calls.
func (a *AuthInterceptor) attachToken(ctx context.Context, req *http.Request) {
	token, err := a.session.GetToken(ctx, TokenOptions{})
	if err != nil {
		a.log.Error("error getting auth token", slog.String("error", err.Error()))
		return
	}
	if token == "" {
		a.log.Warn("no authentication token available",
			slog.String("url", req.URL.String()))
		return
	}
	setAuthHeaders(req, token)
}

func (a *AuthInterceptor) expire(ctx context.Context, req *http.Request, cause error) *APIError {
	a.session.RedirectToSignIn(ctx)
	return &APIError{
		Kind:       KindAuthExpired,
		StatusCode: http.StatusUnauthorized,
		Method:     req.Method,
		URL:        req.URL.String(),
		Message:    MsgAuthExpired,
		Err:        cause,
	}
}

func setAuthHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind returns a copy of req with a fresh body
func rewind(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	return retry, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
