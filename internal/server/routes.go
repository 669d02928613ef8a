// Package server wires HTTP handlers into a ServeMux for the forest chat
// application via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, account routes, preference routes, and the
// WebSocket endpoint.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.HealthHandler)
	mux.HandleFunc("POST /register", s.RegisterHandler)
	mux.HandleFunc("POST /login", s.LoginHandler)
	mux.HandleFunc("POST /logout", s.LogoutHandler)
	mux.HandleFunc("POST /preferences/color", s.ChangeColorHandler)
	mux.HandleFunc("POST /preferences/icon", s.ChangeIconHandler)
	mux.HandleFunc("GET /ws", s.WebSocketHandler)
	return mux
}
