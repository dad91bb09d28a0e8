// Package forgetest provides an in-memory Forge API server for tests.
//
// Example:
//
//	func TestMyCode(t *testing.T) {
//	    srv := forgetest.NewServer()
//	    defer srv.Close()
//	    srv.AddUser("ada@example.com", "secret")
//
//	    svc, err := forge.New(t.Context(), srv.Config(), store.NewMemory())
//	    // ...
//	}
package forgetest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/adamwoolhether/forge"
	"github.com/adamwoolhether/forge/auth"
	"github.com/adamwoolhether/forge/client"
)

// APIKey is the only API key the server accepts.
const APIKey = "forgetest-api-key"

var signingKey = []byte("forgetest-signing-key")

// Server is an in-memory implementation of the Forge auth and event APIs.
type Server struct {
	server *httptest.Server

	mu        sync.Mutex
	users     map[string]*user
	refresh   map[string]string // refresh token -> email
	hits      map[string]int
	lastAuth  map[string]string
	failures  map[string]failure
	delays    map[string]time.Duration
	streams   map[string]chan forgeEvent
	accessTTL time.Duration
}

type user struct {
	profile  auth.Profile
	password string
}

type failure struct {
	status int
	body   string
}

type forgeEvent struct {
	name string
	data string
}

// NewServer starts a server. Access tokens it issues live for an hour.
func NewServer() *Server {
	s := Server{
		users:     make(map[string]*user),
		refresh:   make(map[string]string),
		hits:      make(map[string]int),
		lastAuth:  make(map[string]string),
		failures:  make(map[string]failure),
		delays:    make(map[string]time.Duration),
		streams:   make(map[string]chan forgeEvent),
		accessTTL: time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+path(forge.Login), s.handleLogin)
	mux.HandleFunc("POST "+path(forge.Signup), s.handleSignup)
	mux.HandleFunc("POST "+path(forge.SocialLogin), s.handleSocialLogin)
	mux.HandleFunc("POST "+path(forge.RefreshToken), s.handleRefresh)
	mux.HandleFunc("POST "+path(forge.Logout), s.authenticated(s.handleLogout))
	mux.HandleFunc("PUT "+path(forge.ChangePassword), s.authenticated(s.handleChangePassword))
	mux.HandleFunc("POST "+path(forge.ForgotPassword), s.handleForgotPassword)
	mux.HandleFunc("PUT "+path(forge.ResetPassword), s.handleResetPassword)
	mux.HandleFunc("GET "+path(forge.EventsSubscribe), s.authenticated(s.handleStream))
	mux.HandleFunc("GET "+path(forge.EventsChanges), s.authenticated(s.handleStream))

	s.server = httptest.NewServer(s.intercept(mux))

	return &s
}

func path(ep forge.Endpoint) string {
	return ep.Version + ep.Path
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return s.server.URL
}

// Config returns a configuration pointing a forge.Service at the server.
func (s *Server) Config() forge.Config {
	return forge.Config{BaseURL: s.server.URL, APIKey: APIKey}
}

// Close shuts down the server.
func (s *Server) Close() {
	s.server.CloseClientConnections()
	s.server.Close()
}

// DropConnections severs every open client connection, including streams.
func (s *Server) DropConnections() {
	s.server.CloseClientConnections()
}

// SetAccessTTL sets the lifetime of access tokens issued from now on.
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = d
}

// AddUser registers an account and returns its profile.
func (s *Server) AddUser(email, password string) auth.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &user{
		profile:  auth.Profile{ID: uuid.NewString(), Email: email, Type: "patient"},
		password: password,
	}
	s.users[email] = u

	return u.profile
}

// Password returns the current password of email.
func (s *Server) Password(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[email]; ok {
		return u.password
	}
	return ""
}

// Session issues a session for email without a login call, for seeding a
// store. It panics if the user does not exist.
func (s *Server) Session(email string) auth.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[email]; !ok {
		panic("forgetest: unknown user " + email)
	}

	return s.issueLocked(email)
}

// RefreshTokens reports how many refresh tokens issued to email are still
// accepted.
func (s *Server) RefreshTokens(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, owner := range s.refresh {
		if owner == email {
			n++
		}
	}
	return n
}

// Fail makes the next calls to ep answer status with body until cleared
// with a zero status.
func (s *Server) Fail(ep forge.Endpoint, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == 0 {
		delete(s.failures, path(ep))
		return
	}
	s.failures[path(ep)] = failure{status: status, body: body}
}

// Delay holds every call to ep for d before it is handled.
func (s *Server) Delay(ep forge.Endpoint, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[path(ep)] = d
}

// Hits returns how many calls reached ep.
func (s *Server) Hits(ep forge.Endpoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path(ep)]
}

// LastAuthorization returns the Authorization header of the latest call to
// ep.
func (s *Server) LastAuthorization(ep forge.Endpoint) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth[path(ep)]
}

// Publish sends an event to every open stream of ep. It reports whether a
// stream was open to receive it.
func (s *Server) Publish(ep forge.Endpoint, name, data string) bool {
	s.mu.Lock()
	ch, ok := s.streams[path(ep)]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- forgeEvent{name: name, data: data}:
		return true
	case <-time.After(time.Second):
		return false
	}
}

// =============================================================================

func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.lastAuth[r.URL.Path] = r.Header.Get(client.HeaderAuthorization)
		fail, failing := s.failures[r.URL.Path]
		delay := s.delays[r.URL.Path]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if r.Header.Get(client.HeaderAPIKey) != APIKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		if failing {
			w.WriteHeader(fail.status)
			fmt.Fprint(w, fail.body)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(client.HeaderClient) == "" {
			writeError(w, http.StatusUnauthorized, "missing client identity")
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get(client.HeaderAuthorization), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		_, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return signingKey, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "jwt expired"
			}
			writeError(w, http.StatusUnauthorized, msg)
			return
		}

		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req forge.LoginRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.Email]
	if !ok || u.password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, forge.LoginResponse{AccessToken: s.issueLocked(req.Email), Data: u.profile})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req forge.SignupRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[req.Email]; exists {
		writeError(w, http.StatusConflict, "user already exists")
		return
	}

	u := &user{
		profile: auth.Profile{
			ID:        uuid.NewString(),
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Type:      req.Type,
		},
		password: req.Password,
	}
	s.users[req.Email] = u

	writeJSON(w, http.StatusCreated, forge.LoginResponse{AccessToken: s.issueLocked(req.Email), Data: u.profile})
}

func (s *Server) handleSocialLogin(w http.ResponseWriter, r *http.Request) {
	var req forge.SocialLoginRequest
	if !decode(w, r, &req) {
		return
	}

	// The identity token stands in for the provider's verified email.
	email := req.IdentityToken

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[email]
	if !ok {
		if req.AuthType != "signup" {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		u = &user{profile: auth.Profile{ID: uuid.NewString(), Email: email, Type: req.Type}}
		s.users[email] = u
	}

	writeJSON(w, http.StatusOK, forge.LoginResponse{AccessToken: s.issueLocked(email), Data: u.profile})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.refresh[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	delete(s.refresh, req.RefreshToken)

	writeJSON(w, http.StatusOK, forge.LoginResponse{AccessToken: s.issueLocked(email), Data: s.users[email].profile})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	_, ok := s.refresh[req.RefreshToken]
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	writeJSON(w, http.StatusOK, forge.MessageResponse{Message: forge.SignOutMessage})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req forge.ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.Email]
	if !ok || u.password != req.Password {
		writeError(w, http.StatusBadRequest, "current password does not match")
		return
	}
	u.password = req.NewPassword

	writeJSON(w, http.StatusOK, forge.MessageResponse{Message: "Password changed successfully."})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forge.ForgotPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, forge.MessageResponse{Message: "If the account exists, a reset code was sent."})
}

// ResetCode is the code the server accepts for every password reset.
const ResetCode = "123456"

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req forge.ResetPasswordRequest
	if !decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[req.Email]
	if !ok || req.Code != ResetCode {
		writeError(w, http.StatusBadRequest, "invalid reset code")
		return
	}
	u.password = req.NewPassword

	writeJSON(w, http.StatusOK, forge.MessageResponse{Message: "Password reset successfully."})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := make(chan forgeEvent)
	s.mu.Lock()
	s.streams[r.URL.Path] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.streams[r.URL.Path] == ch {
			delete(s.streams, r.URL.Path)
		}
		s.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: user-connected\ndata: {\"client\":%q}\n\n", r.Header.Get(client.HeaderClient))
	flusher.Flush()

	for {
		select {
		case ev := <-ch:
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// issueLocked mints a session for email. s.mu must be held.
func (s *Server) issueLocked(email string) auth.Record {
	exp := time.Now().Add(s.accessTTL)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   email,
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}).SignedString(signingKey)
	if err != nil {
		panic(fmt.Sprintf("forgetest: signing token: %v", err))
	}

	refresh := uuid.NewString()
	s.refresh[refresh] = email

	return auth.Record{AccessToken: token, RefreshToken: refresh}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, client.ErrorData{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
