// Package api exposes the relay over HTTP: the websocket transport on
// /updates/{user}, room history under /v1, and the operational endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"draftwire/pkg/auth"
	"draftwire/pkg/logger"
	"draftwire/pkg/relay"
	"draftwire/pkg/store"
	"draftwire/pkg/utils"
)

// Options carries the collaborators the handlers need.
type Options struct {
	Relay   *relay.Relay
	Store   store.RoomStore
	Limiter *auth.LimiterPool
	// AllowedOrigins is the CORS / websocket origin allowlist. Empty
	// allows same-origin only; "*" allows everything.
	AllowedOrigins []string
	// Ready reports whether the server is able to take traffic.
	Ready func() bool
	// Version is reported by /readyz.
	Version string
}

// NewRouter builds the full route table.
func NewRouter(opts Options) *mux.Router {
	s := &server{opts: opts}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs"))).Methods(http.MethodGet)

	r.HandleFunc("/updates/{user}", s.updatesHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/{a}/{b}/messages", s.roomMessagesHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{id}", s.messageHandler).Methods(http.MethodGet)

	r.Use(requestLogMiddleware)
	r.Use(corsMiddleware(opts.AllowedOrigins))
	return r
}

func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}

type server struct {
	opts Options
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Ready != nil && !s.opts.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	ver := s.opts.Version
	if ver == "" {
		ver = "dev"
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "version": ver})
}

// corsMiddleware reflects allowed origins onto responses. The websocket
// upgrade does its own origin check against the same list.
func corsMiddleware(origins []string) mux.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if wildcard {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else if _, ok := allowed[origin]; ok {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
