package middleware

import (
	"compress/flate"
	"log/slog"

	"idylle/internal/config"
)

// Names of the built-in middlewares, as listed in Settings.Middlewares
const (
	NameRequestID       = "request_id"
	NameRealIP          = "real_ip"
	NameLogger          = "logger"
	NameRecoverer       = "recoverer"
	NameTracing         = "tracing"
	NameRateLimit       = "rate_limit"
	NameIPRateLimit     = "ip_rate_limit"
	NameCORS            = "cors"
	NameSecurityHeaders = "security_headers"
	NameTimeout         = "timeout"
	NameCompress        = "compress"
	NameAPIKey          = "api_key"
)

// Defaults returns the built-in middlewares configured from s. Only the
// names listed in s.Middlewares are applied to routes; the rest are
// available to be listed. rate_limit is present only when enabled and
// api_key only when keys are configured.
func Defaults(s *config.Settings, logger *slog.Logger) map[string]Func {
	logger = logger.With(slog.String("component", "middleware"))

	m := map[string]Func{
		NameRequestID:       RequestID,
		NameRealIP:          RealIP,
		NameLogger:          StructuredLogger(logger),
		NameRecoverer:       Recoverer(logger),
		NameCORS:            CORS(s.Security.AllowedOrigins),
		NameSecurityHeaders: DefaultSecureHeaders().Handler,
		NameCompress:        Compress(flate.DefaultCompression),
	}

	if s.Server.RequestTimeout > 0 {
		m[NameTimeout] = Timeout(s.Server.RequestTimeout)
	}
	if rl := s.Security.RateLimit; rl.Enabled && rl.RPS > 0 {
		m[NameRateLimit] = NewRateLimiter(rl.RPS, rl.Burst, logger).Handler
	}
	if ipl := s.Security.IPRateLimit; ipl.Requests > 0 && ipl.Window > 0 {
		m[NameIPRateLimit] = IPRateLimit(ipl.Requests, ipl.Window)
	}
	if len(s.Security.APIKeys) > 0 {
		m[NameAPIKey] = APIKeyAuth(logger, s.Security.APIKeys)
	}

	if tracing, err := Tracing(logger); err != nil {
		logger.Warn("tracing middleware unavailable", slog.String("error", err.Error()))
	} else {
		m[NameTracing] = tracing
	}

	return m
}
