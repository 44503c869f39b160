package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelfilter/internal/id"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// withRequestID reuses a well formed client X-Request-ID and mints one otherwise.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if !id.Valid(requestID) {
			requestID = id.New()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

func (s *Server) requestLog(r *http.Request) logrus.FieldLogger {
	if requestID := requestIDFrom(r.Context()); requestID != "" {
		return s.log.WithField("request_id", requestID)
	}
	return s.log
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.requestLog(r).WithFields(logrus.Fields{
			"method":      r.Method,
			"route":       routeLabel(r.URL.Path),
			"status":      recorder.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote":      clientIP(r),
		}).Debug("request handled")
	})
}
