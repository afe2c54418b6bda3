package statusapi

import (
	"net/http"
	"time"
)

// authRequired gates a handler behind bearer-token auth when a secret
// is configured; without one the API is open (typical for a bridge on a
// trusted LAN).
func (s *Server) authRequired(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			next(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		if token == "" {
			s.writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		if _, err := s.auth.ValidateToken(token); err != nil {
			s.writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// logging emits one request log line.
func (s *Server) logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

// recovery turns handler panics into 500s instead of killing the
// daemon.
func (s *Server) recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Interface("panic", rec).Str("path", r.URL.Path).
					Msg("handler panicked")
				s.writeError(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
