package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/reflux-run/reflux/pkg/logger"
)

// accessLogMiddleware writes one structured line per request via zerolog,
// separate from pkg/logger's logrus component logging: the teacher carries
// both zerolog and logrus in its go.mod without collapsing them, and this
// mirrors that split — logrus for component lifecycle events, zerolog for
// the narrower, much higher-frequency HTTP access-log line.
func accessLogMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	zl := zerolog.New(zerologWriter{log}).With().Timestamp().Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(rec, r)

			evt := zl.Info()
			if rec.status >= 500 {
				evt = zl.Error()
			} else if rec.status >= 400 {
				evt = zl.Warn()
			}
			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("http request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// zerologWriter adapts pkg/logger's logrus sink so the access-log zerolog
// instance writes through the same configured output instead of opening a
// second one directly against stdout.
type zerologWriter struct {
	log *logger.Logger
}

func (w zerologWriter) Write(p []byte) (int, error) {
	w.log.Debug(string(p))
	return len(p), nil
}
