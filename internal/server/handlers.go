// Package server exposes the HTTP handlers around the messaging core:
// registration, login/logout, preference updates, the WebSocket upgrade,
// and a health check.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/chat"
	"github.com/bearbait/forestchat/internal/store"
)

// sessionCookie carries the opaque session token issued at login.
const sessionCookie = "forest_session"

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// RegisterHandler creates a new account from username/password form values.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	acct, err := s.store.CreateAccount(r.Context(), username, password)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, http.StatusConflict, "username already exists")
		return
	}
	if err != nil {
		s.log.Error("registration failed", zap.String("username", username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	s.log.Info("account registered", zap.String("username", acct.Username))
	writeJSON(w, http.StatusCreated, map[string]string{"username": acct.Username})
}

// LoginHandler authenticates the credentials, opens a fresh session (which
// supersedes and evicts any earlier one), and binds the opaque token to a
// cookie.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("username")
	password := r.FormValue("password")

	acct, err := s.authority.Authenticate(r.Context(), username, password)
	if errors.Is(err, chat.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if err != nil {
		s.log.Error("authentication failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	sess, err := s.authority.Open(r.Context(), acct)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"username": acct.Username})
}

// LogoutHandler voluntarily closes the session bound to the cookie. The
// registry entry, if any, is dropped without a forced-logout signal.
func (s *Server) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookie)
	if err == nil && cookie.Value != "" {
		if err := s.authority.Close(r.Context(), cookie.Value); err != nil {
			s.log.Error("closing session failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// ChangeColorHandler updates the account's message color preference.
func (s *Server) ChangeColorHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	colorName := r.FormValue("color_name")
	if !chat.ValidColor(colorName) {
		writeError(w, http.StatusBadRequest, "unknown color")
		return
	}

	if err := s.store.UpdateColor(r.Context(), acct.ID, colorName); err != nil {
		s.log.Error("updating color failed", zap.String("username", acct.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"color_name": colorName})
}

// ChangeIconHandler updates the account's creature icon preference.
func (s *Server) ChangeIconHandler(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	iconName := r.FormValue("icon_name")
	if !chat.ValidCreature(iconName) {
		writeError(w, http.StatusBadRequest, "unknown creature")
		return
	}

	if err := s.store.UpdateIcon(r.Context(), acct.ID, iconName); err != nil {
		s.log.Error("updating icon failed", zap.String("username", acct.Username), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"icon_name": iconName})
}

// WebSocketHandler validates the session cookie and upgrades the connection.
// A missing, invalid, or expired token refuses the upgrade outright.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	token := cookie.Value

	if _, _, err := s.authority.Validate(r.Context(), token); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, s, r.RemoteAddr)
	acct, err := s.authority.Connect(r.Context(), token, client)
	if err != nil {
		// Pumps are not running yet, close the transport directly.
		client.Kick()
		conn.Close()
		return
	}
	client.account = acct
	client.start()
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Forest chat server is running!"))
}

// requireSession resolves the session cookie to its account or rejects the
// request.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*store.Account, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return nil, false
	}

	_, acct, err := s.authority.Validate(r.Context(), cookie.Value)
	if errors.Is(err, chat.ErrInvalidSession) {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return nil, false
	}
	return acct, true
}
