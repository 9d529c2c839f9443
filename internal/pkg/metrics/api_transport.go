package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// roundTripperFunc adapts a function to http.RoundTripper
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// NewAPITransport wraps base so every request it carries is counted and
// timed. It sits below the auth interceptor, so a request retried after a
// token refresh is counted twice.
func NewAPITransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := base.RoundTrip(req)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		observeAPICall(req, status, time.Since(start), err)
		return resp, err
	})
}

func observeAPICall(req *http.Request, status int, elapsed time.Duration, err error) {
	host, route := req.URL.Host, normalizeRoute(req.URL.Path)

	APICalls.WithLabelValues(req.Method, host, route, strconv.Itoa(status)).Inc()
	APIDuration.WithLabelValues(req.Method, host, route).Observe(float64(elapsed.Milliseconds()))
	if err != nil || status >= 400 {
		APIErrors.WithLabelValues(host, route, classifyAPIError(status, err)).Inc()
	}
}

var routePatterns = []struct {
	regex   *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`/invoices/[^/]+/`), "/invoices/:id/"},
	{regexp.MustCompile(`/invoices/(?:[0-9a-fA-F]{24}|[0-9a-fA-F-]{36}|\d+)$`), "/invoices/:id"},
	{regexp.MustCompile(`/v1_1/[^/]+/`), "/v1_1/:cloud/"},
}

// normalizeRoute replaces IDs in request paths with placeholders to bound
// label cardinality
func normalizeRoute(path string) string {
	for _, p := range routePatterns {
		path = p.regex.ReplaceAllString(path, p.replace)
	}
	return path
}

var statusReasons = map[int]string{
	http.StatusBadRequest:      "bad_request",
	http.StatusUnauthorized:    "unauthorized",
	http.StatusForbidden:       "forbidden",
	http.StatusNotFound:        "not_found",
	http.StatusConflict:        "conflict",
	http.StatusTooManyRequests: "rate_limited",
}

// classifyAPIError buckets a failed call into a small set of reasons
func classifyAPIError(status int, err error) string {
	if err != nil {
		return classifyTransportError(err)
	}
	if reason, ok := statusReasons[status]; ok {
		return reason
	}
	switch {
	case status >= 500:
		return "server_error"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}

func classifyTransportError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	// Dial and handshake failures surface as wrapped strings from net/http
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline"), strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "tls"):
		return "tls"
	default:
		return "network"
	}
}
