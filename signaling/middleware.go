package signaling

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs method, URI, status, and remote address for every
// request the relay's mux handles. Grounded on server/log.go.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("signaling: request", "uri", r.RequestURI, "method", r.Method, "status", ww.Status(), "from", r.RemoteAddr)
		})
	}
}

// LimitRequestBody caps the size of any request body the relay's plain HTTP
// endpoints accept. Grounded on server/limit.go; unlike the teacher's
// version this doesn't call r.ParseForm() afterward, since this relay's
// HTTP endpoints (besides the WebSocket upgrade, which has no body) speak
// JSON, not form-encoded bodies.
func LimitRequestBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// NewHandler wires Relay's WebSocket endpoint, an optional Mailbox's poll
// endpoints, and a health check behind the logging and
// body-size-limiting middleware. mailbox may be nil if only the WebSocket
// transport is served.
func NewHandler(relay *Relay, mailbox *Mailbox, maxBodyBytes int64, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/relay", relay.ServeHTTP)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if mailbox != nil {
		mailbox.Mount(mux)
	}
	return RequestLogger(logger)(LimitRequestBody(maxBodyBytes)(mux))
}
