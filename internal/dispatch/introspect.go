package dispatch

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	jsoncodecpkg "github.com/forattini-dev/raffel-sub000/internal/dispatch/jsoncodec"
)

const defaultIntrospectionPort = 8081

func (s *Service) startIntrospectionServer() {
	if !s.Conf.IntrospectionEnabled {
		return
	}

	port := s.Conf.IntrospectionPort
	if port == 0 {
		port = defaultIntrospectionPort
	}

	s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
}

func (s *Service) startMetricsServer() {
	if !s.Conf.MetricsEnabled {
		return
	}

	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
}

// handleGetHandlers serves the registered handlers with their delivery
// policies and live stats as JSON.
func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(s.Conf.CORSAllowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if allowed := s.allowedCORSOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodecpkg.Encode(w, s.router.Handlers()); err != nil {
		s.Logger.Error("Failed to encode handlers", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedCORSOrigin checks if the request origin is allowed and returns the
// value for the Access-Control-Allow-Origin header.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.CORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
