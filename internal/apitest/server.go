package apitest

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

type Project struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type Task struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	DueAt    *string  `json:"due_at"`
	Priority int      `json:"priority"`
	AIScore  *float64 `json:"ai_score"`
}

// Fault alters the response of one path. Hold blocks the handler until the
// channel is closed; Drop closes the connection without a response.
type Fault struct {
	Status int
	Delay  time.Duration
	Hold   <-chan struct{}
	Drop   bool
}

type tokenClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	secret   []byte
	users    map[string]User
	nextID   int64
	projects []Project
	tasks    []Task
	faults   map[string]Fault
	hits     map[string]int
}

func NewServer() *Server {
	s := &Server{
		secret: newSecret(),
		users:  make(map[string]User),
		nextID: 1,
		faults: make(map[string]Fault),
		hits:   make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.faultInjector)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.With(s.bearerAuth).Get("/me", s.handleMe)
	})
	r.With(s.bearerAuth).Get("/projects", s.handleProjects)
	r.With(s.bearerAuth).Get("/tasks", s.handleTasks)
	return r
}

func (s *Server) AddUser(email, password string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password)
}

func (s *Server) addUserLocked(email, password string) User {
	u := User{ID: s.nextID, Email: email, Password: password}
	s.nextID++
	s.users[strings.ToLower(email)] = u
	return u
}

func (s *Server) IssueTokens(userID int64) (string, string) {
	s.mu.Lock()
	secret := s.secret
	s.mu.Unlock()
	return sign(secret, userID, "access", 30*time.Minute), sign(secret, userID, "refresh", 7*24*time.Hour)
}

// RevokeAll rotates the signing key, invalidating every issued token.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secret = newSecret()
}

func (s *Server) SetProjects(p []Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append([]Project(nil), p...)
}

func (s *Server) SetTasks(t []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append([]Task(nil), t...)
}

func (s *Server) SetFault(path string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = f
}

func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]Fault)
}

func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *Server) faultInjector(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		f, ok := s.faults[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if f.Hold != nil {
			select {
			case <-f.Hold:
			case <-r.Context().Done():
				return
			}
		}
		if f.Delay > 0 {
			time.Sleep(f.Delay)
		}
		if f.Drop {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			panic(http.ErrAbortHandler)
		}
		if f.Status != 0 {
			writeError(w, f.Status, http.StatusText(f.Status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userIDKey struct{}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims, err := s.parse(parts[1])
		if err != nil || claims.Type != "access" {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		id, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithUser(r, id)))
	})
}

func (s *Server) parse(raw string) (*tokenClaims, error) {
	s.mu.Lock()
	secret := s.secret
	s.mu.Unlock()

	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusUnprocessableEntity, "invalid registration")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[strings.ToLower(req.Email)]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := s.addUserLocked(req.Email, req.Password)
	s.mu.Unlock()

	access, refresh := s.IssueTokens(u.ID)
	writeTokens(w, http.StatusCreated, access, refresh)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid login")
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || u.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	access, refresh := s.IssueTokens(u.ID)
	writeTokens(w, http.StatusOK, access, refresh)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid refresh")
		return
	}
	claims, err := s.parse(req.RefreshToken)
	if err != nil || claims.Type != "refresh" {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, refresh := s.IssueTokens(id)
	writeTokens(w, http.StatusOK, access, refresh)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := userFromContext(r)

	s.mu.Lock()
	var found *User
	for _, u := range s.users {
		if u.ID == id {
			u := u
			found = &u
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         found.ID,
		"email":      found.Email,
		"created_at": "2026-01-02T03:04:05.123456",
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := append([]Project{}, s.projects...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusUnprocessableEntity, "invalid limit")
			return
		}
		limit = n
	}

	s.mu.Lock()
	all := append([]Task{}, s.tasks...)
	s.mu.Unlock()

	items := all
	if len(items) > limit {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(all),
		"skip":  0,
		"limit": limit,
	})
}

func sign(secret []byte, userID int64, typ string, ttl time.Duration) string {
	now := time.Now()
	claims := tokenClaims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		panic("sign test token: " + err.Error())
	}
	return tok
}

func newSecret() []byte {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("generate signing key: " + err.Error())
	}
	return b
}

func writeTokens(w http.ResponseWriter, status int, access, refresh string) {
	writeJSON(w, status, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
