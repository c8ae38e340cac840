package middleware

import (
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request with method, path, status, duration,
// bytes written and the chi request id
func RequestLogger(logger logrus.FieldLogger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			entry := logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     m.Code,
				"duration":   m.Duration.Round(time.Millisecond).String(),
				"bytes":      m.Written,
				"request_id": chimiddleware.GetReqID(r.Context()),
			})

			switch {
			case m.Code >= 500:
				entry.Error("request")
			case m.Code >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
		})
	}
}
