package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

type ctxSubjectKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) metricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			s.metrics.Requests.WithLabelValues(routePattern(r), r.Method, strconv.Itoa(recorder.status)).Inc()
		})
	}
}

// authenticated requires a valid bearer token when the server has an issuer.
// Event streams may pass the token as ?token= since browsers cannot set
// headers on EventSource.
func (s *Server) authenticated() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.tokens == nil {
				next.ServeHTTP(w, r)
				return
			}
			token := parseTokenFromHeader(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			subject, err := s.tokens.Validate(token)
			if err != nil {
				s.metrics.AuthFailed.Inc()
				s.log.Debug().Err(err).Str("client", clientOrigin(r)).Msg("rejected token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(newAuthContext(r.Context(), subject)))
		})
	}
}

func newAuthContext(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxSubjectKey{}, subject)
}

func subjectFrom(ctx context.Context) string {
	subject, _ := ctx.Value(ctxSubjectKey{}).(string)
	return subject
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func parseTokenFromHeader(h string) string {
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
