package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"taskflow/dashboard/internal/apiclient"
	"taskflow/dashboard/internal/config"
	"taskflow/dashboard/internal/dashboard"
	"taskflow/dashboard/internal/observability"
	"taskflow/dashboard/internal/routing"
	"taskflow/dashboard/internal/session"
)

type SessionGate interface {
	State() session.State
	Establish(ctx context.Context, sess session.Session) error
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (session.Session, error)
	Register(ctx context.Context, email, password string) (session.Session, error)
}

type Dashboard interface {
	LoadView(ctx context.Context) (dashboard.ViewModel, error)
	Snapshot() (dashboard.ViewModel, bool)
	Logout(ctx context.Context) error
	Exit()
}

type RouteGuard interface {
	Resolve(path string) routing.Decision
}

type Navigation interface {
	Navigate(path string)
	Current() string
	Entries() []string
}

type Deps struct {
	Gate        SessionGate
	Auth        Authenticator
	Dashboard   Dashboard
	Guard       RouteGuard
	Navigation  Navigation
	Logger      *slog.Logger
	CORSOrigins []string
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = observability.Discard()
	}

	r := chi.NewRouter()
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := &handlers{deps: deps, log: log}
	r.Route("/v1", func(r chi.Router) {
		r.Use(h.requireDeps)
		r.Get("/session", h.sessionState)
		r.Post("/session", h.establish)
		r.Delete("/session", h.logout)
		r.Post("/auth/login", h.credentials(false))
		r.Post("/auth/register", h.credentials(true))
		r.Get("/route", h.route)
		r.Post("/navigate", h.navigate)
		r.Get("/location", h.location)
		r.Get("/dashboard", h.loadDashboard)
		r.Get("/dashboard/snapshot", h.snapshot)
	})
	return r
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func upstreamStatus(err error) (int, string) {
	switch apiclient.Classify(err) {
	case apiclient.FailureAuthorization:
		return http.StatusUnauthorized, "not authorized"
	case apiclient.FailureNetwork:
		return http.StatusBadGateway, "taskflow api unreachable"
	default:
		var se *apiclient.StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			return http.StatusBadRequest, "request rejected by taskflow api"
		}
		return http.StatusBadGateway, "taskflow api error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", reqID,
				"remote", clientIP(r),
			)
		})
	}
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
