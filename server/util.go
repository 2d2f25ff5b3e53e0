package server

import (
	"net"
	"net/http"
	"strings"
)

// checkOrigin validates the request origin against the configured allow list.
// Prefix matching allows any port on an allowed host.
func (s *BurrowServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (direct clients, curl, tests)
	if origin == "" {
		return true
	}

	for _, allowed := range s.cfg.GetServerAllowedOrigins() {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}

	return false
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(addr string) bool {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
