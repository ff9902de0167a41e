package routing

import (
	"strings"
	"sync"

	"taskflow/dashboard/internal/session"
)

const (
	RootPath      = "/"
	LoginPath     = "/login"
	RegisterPath  = "/register"
	DashboardPath = "/dashboard"
)

type Outcome string

const (
	// OutcomeLoading means the session state is not yet known.
	OutcomeLoading  Outcome = "loading"
	OutcomeRender   Outcome = "render"
	OutcomeRedirect Outcome = "redirect"
	OutcomeNotFound Outcome = "not_found"
)

type Decision struct {
	Path    string  `json:"path"`
	Outcome Outcome `json:"outcome"`
	Target  string  `json:"target,omitempty"`
}

type StateReader interface {
	State() session.State
}

// Guard resolves paths against the live session state. It holds no cached
// decision: every Resolve reads the state afresh.
type Guard struct {
	sessions StateReader
}

func NewGuard(sessions StateReader) *Guard {
	return &Guard{sessions: sessions}
}

func (g *Guard) Resolve(path string) Decision {
	path = normalize(path)
	state := g.sessions.State()
	if state == session.StateUninitialized {
		return Decision{Path: path, Outcome: OutcomeLoading}
	}
	authed := state == session.StateAuthenticated

	switch path {
	case RootPath:
		if authed {
			return Decision{Path: path, Outcome: OutcomeRedirect, Target: DashboardPath}
		}
		return Decision{Path: path, Outcome: OutcomeRedirect, Target: LoginPath}
	case LoginPath, RegisterPath:
		return Decision{Path: path, Outcome: OutcomeRender}
	case DashboardPath:
		if !authed {
			return Decision{Path: path, Outcome: OutcomeRedirect, Target: LoginPath}
		}
		return Decision{Path: path, Outcome: OutcomeRender}
	default:
		return Decision{Path: path, Outcome: OutcomeNotFound}
	}
}

func Protected(path string) bool {
	return normalize(path) == DashboardPath
}

func normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return RootPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

type History struct {
	mu      sync.Mutex
	entries []string
}

func NewHistory(initial string) *History {
	return &History{entries: []string{normalize(initial)}}
}

func (h *History) Navigate(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	path = normalize(path)
	if len(h.entries) > 0 && h.entries[len(h.entries)-1] == path {
		return
	}
	h.entries = append(h.entries, path)
}

func (h *History) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return RootPath
	}
	return h.entries[len(h.entries)-1]
}

func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.entries...)
}
