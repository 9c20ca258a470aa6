package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"apiforge/internal/apierr"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// routeLabel is filled in by the matched route so the metrics middleware,
// which runs before routing, can label by path template
type routeLabel struct {
	template string
}

type routeLabelKey struct{}

func withRoute(template string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if label, ok := r.Context().Value(routeLabelKey{}).(*routeLabel); ok {
			label.template = template
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns panics that escape the pipeline into a 500
// envelope
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.deps.Log.Error("panic", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Any("panic", rec))
				if rw.wroteHeader {
					return
				}
				s.deps.Errors.Handle(rw, r, apierr.Internal(fmt.Errorf("panic: %v", rec)), nil)
			}
		}()
		next.ServeHTTP(rw, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		label := &routeLabel{template: "unmatched"}
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), routeLabelKey{}, label)))

		s.deps.Metrics.ObserveRequest(r.Method, label.template, rw.statusCode, time.Since(start))
	})
}
