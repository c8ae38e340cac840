package middleware

import (
	"net/http"

	"github.com/shindakun/arclogin/internal/config"
)

// SecurityHeaders creates middleware that adds HTTP security headers to all responses
func SecurityHeaders(cfg *config.Config) func(http.Handler) http.Handler {
	headers := cfg.Server.Security.Headers
	hsts := cfg.IsHTTPS() && headers.StrictTransportSecurity != ""

	set := map[string]string{
		"X-Frame-Options":         headers.XFrameOptions,
		"X-Content-Type-Options":  headers.XContentTypeOptions,
		"Referrer-Policy":         headers.ReferrerPolicy,
		"Content-Security-Policy": headers.ContentSecurityPolicy,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for name, value := range set {
				if value != "" {
					w.Header().Set(name, value)
				}
			}

			// Strict-Transport-Security: only when served over HTTPS
			if hsts {
				w.Header().Set("Strict-Transport-Security", headers.StrictTransportSecurity)
			}

			next.ServeHTTP(w, r)
		})
	}
}
