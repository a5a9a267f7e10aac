package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apierrors "idylle/internal/errors"
)

// APIKeyHeader is the header APIKeyAuth reads
const APIKeyHeader = "X-API-Key"

type principalKey struct{}

// WithPrincipal attaches an authenticated identity to ctx
func WithPrincipal(ctx context.Context, principal any) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the identity attached by an auth middleware, or nil
func PrincipalFrom(ctx context.Context) any {
	return ctx.Value(principalKey{})
}

// APIClient is the principal APIKeyAuth attaches
type APIClient struct {
	Name string `json:"name"`
}

// APIKeyAuth accepts requests carrying one of keys in X-API-Key (or the
// api_key query parameter) and attaches the matching APIClient principal
func APIKeyAuth(logger *slog.Logger, keys map[string]string) Func {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				apiKey = r.URL.Query().Get("api_key")
			}
			if apiKey == "" {
				logger.WarnContext(ctx, "missing API key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				renderUnauthorized(w, r, "API key required")
				return
			}

			client, ok := lookupKey(keys, apiKey)
			if !ok {
				logger.WarnContext(ctx, "invalid API key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				renderUnauthorized(w, r, "Invalid API key")
				return
			}

			ctx = WithPrincipal(ctx, &APIClient{Name: client})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookupKey compares in constant time against every configured key
func lookupKey(keys map[string]string, candidate string) (string, bool) {
	var match string
	found := false
	for key, client := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(candidate)) == 1 {
			match = client
			found = true
		}
	}
	return match, found
}

func renderUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := apierrors.NewProblemDetails(
		http.StatusUnauthorized,
		apierrors.TypeUnauthorized,
		"Unauthorized",
		detail,
		r.URL.Path,
	).WithExtension("trace_id", GetRequestID(r.Context()))
	render.Render(w, r, problem)
}

// SecureHeaders provides configurable security headers
type SecureHeaders struct {
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	PermissionsPolicy     string
}

// DefaultSecureHeaders returns headers suited to a JSON API
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:            63072000, // 2 years
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy: strings.Join([]string{
			"accelerometer=()",
			"camera=()",
			"geolocation=()",
			"microphone=()",
			"payment=()",
			"usb=()",
		}, ", "),
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// upgrades are answered by the websocket server
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if sh.HSTSMaxAge > 0 && r.TLS != nil {
			hsts := fmt.Sprintf("max-age=%d", sh.HSTSMaxAge)
			if sh.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			h.Set("Strict-Transport-Security", hsts)
		}
		setIf(h, "Content-Security-Policy", sh.ContentSecurityPolicy)
		setIf(h, "X-Frame-Options", sh.XFrameOptions)
		setIf(h, "X-Content-Type-Options", sh.XContentTypeOptions)
		setIf(h, "Referrer-Policy", sh.ReferrerPolicy)
		setIf(h, "Permissions-Policy", sh.PermissionsPolicy)

		next.ServeHTTP(w, r)
	})
}

func setIf(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
