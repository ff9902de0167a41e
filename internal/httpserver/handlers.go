package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"taskflow/dashboard/internal/apiclient"
	"taskflow/dashboard/internal/dashboard"
	"taskflow/dashboard/internal/routing"
	"taskflow/dashboard/internal/session"
)

type handlers struct {
	deps Deps
	log  *slog.Logger
}

func (h *handlers) requireDeps(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := h.deps
		if d.Gate == nil || d.Auth == nil || d.Dashboard == nil || d.Guard == nil || d.Navigation == nil {
			writeError(w, http.StatusServiceUnavailable, "dashboard core unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) sessionState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessionBody())
}

func (h *handlers) sessionBody() map[string]any {
	state := h.deps.Gate.State()
	return map[string]any{
		"state":         state.String(),
		"authenticated": state == session.StateAuthenticated,
		"location":      h.deps.Navigation.Current(),
	}
}

func (h *handlers) establish(w http.ResponseWriter, r *http.Request) {
	var req session.Session
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.establishSession(r, req); err != nil {
		h.writeEstablishError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessionBody())
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Dashboard.Logout(r.Context()); err != nil {
		if errors.Is(err, session.ErrNotInitialized) {
			writeError(w, http.StatusServiceUnavailable, "session not initialized")
			return
		}
		h.log.Error("logout failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) credentials(register bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if h.deps.Gate.State() == session.StateAuthenticated {
			writeError(w, http.StatusConflict, "session already established")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		exchange, okStatus := h.deps.Auth.Login, http.StatusOK
		if register {
			exchange, okStatus = h.deps.Auth.Register, http.StatusCreated
		}
		sess, err := exchange(r.Context(), req.Email, req.Password)
		if err != nil {
			status, msg := upstreamStatus(err)
			if status == http.StatusUnauthorized {
				msg = "invalid credentials"
			}
			h.log.Warn("credential exchange failed", "path", r.URL.Path, "request_id", requestIDFromContext(r.Context()), "error", err)
			writeError(w, status, msg)
			return
		}
		if err := h.establishSession(r, sess); err != nil {
			h.writeEstablishError(w, r, err)
			return
		}
		writeJSON(w, okStatus, h.sessionBody())
	}
}

func (h *handlers) establishSession(r *http.Request, sess session.Session) error {
	if err := h.deps.Gate.Establish(r.Context(), sess); err != nil {
		return err
	}
	h.deps.Dashboard.Exit()
	return nil
}

func (h *handlers) writeEstablishError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyAccessToken):
		writeError(w, http.StatusBadRequest, "access_token is required")
	case errors.Is(err, session.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "session not initialized")
	case errors.Is(err, session.ErrAlreadyAuthenticated):
		writeError(w, http.StatusConflict, "session already established")
	default:
		h.log.Error("establish session failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "could not persist session")
	}
}

func (h *handlers) route(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Guard.Resolve(r.URL.Query().Get("path")))
}

// navigate resolves path and moves the location to where the decision lands.
// Leaving the dashboard exits the view.
func (h *handlers) navigate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision := h.deps.Guard.Resolve(req.Path)
	switch decision.Outcome {
	case routing.OutcomeLoading:
		writeJSON(w, http.StatusAccepted, decision)
		return
	case routing.OutcomeNotFound:
		writeJSON(w, http.StatusNotFound, decision)
		return
	}

	target := decision.Path
	if decision.Outcome == routing.OutcomeRedirect {
		target = decision.Target
	}
	if h.deps.Navigation.Current() == routing.DashboardPath && target != routing.DashboardPath {
		h.deps.Dashboard.Exit()
	}
	h.deps.Navigation.Navigate(target)
	writeJSON(w, http.StatusOK, decision)
}

func (h *handlers) location(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"current": h.deps.Navigation.Current(),
		"history": h.deps.Navigation.Entries(),
	})
}

func (h *handlers) loadDashboard(w http.ResponseWriter, r *http.Request) {
	decision := h.deps.Guard.Resolve(routing.DashboardPath)
	switch decision.Outcome {
	case routing.OutcomeRender:
	case routing.OutcomeLoading:
		writeJSON(w, http.StatusServiceUnavailable, decision)
		return
	default:
		writeJSON(w, http.StatusUnauthorized, decision)
		return
	}

	vm, err := h.deps.Dashboard.LoadView(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, vm)
	case errors.Is(err, dashboard.ErrStaleCycle):
		writeError(w, http.StatusConflict, "superseded by a newer dashboard load")
	case errors.Is(err, apiclient.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, h.deps.Guard.Resolve(routing.DashboardPath))
	default:
		h.log.Error("dashboard load failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "dashboard load failed")
	}
}

func (h *handlers) snapshot(w http.ResponseWriter, _ *http.Request) {
	vm, ok := h.deps.Dashboard.Snapshot()
	if !ok {
		writeError(w, http.StatusNotFound, "no active dashboard view")
		return
	}
	writeJSON(w, http.StatusOK, vm)
}
