package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/munnerz/goautoneg"
	"github.com/sirupsen/logrus"
)

// Recover turns a panicking handler into a logged error and the fallback
// response, usually the 500 page
func Recover(logger logrus.FieldLogger, fallback http.Handler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.WithFields(logrus.Fields{
						"panic": rec,
						"path":  r.URL.Path,
						"stack": string(debug.Stack()),
					}).Error("panic recovered")

					fallback.ServeHTTP(w, r)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// wantsJSON reports whether the Accept header ranks JSON above HTML
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	return goautoneg.Negotiate(accept, []string{"text/html", "application/json"}) == "application/json"
}
