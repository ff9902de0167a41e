package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"taskflow/dashboard/internal/audit"
	"taskflow/dashboard/internal/observability"
	"taskflow/dashboard/internal/storage"
)

var (
	ErrNotInitialized       = errors.New("session gate not initialized")
	ErrAlreadyInitialized   = errors.New("session gate already initialized")
	ErrEmptyAccessToken     = errors.New("access token must not be empty")
	ErrAlreadyAuthenticated = errors.New("session already established")
)

const (
	DefaultEntryPath = "/login"
	DefaultHomePath  = "/dashboard"
)

// Navigator receives the navigation triggered by session state changes. It is
// called with the gate's lock held and must not call back into the Gate.
type Navigator interface {
	Navigate(path string)
}

type AuditLogger interface {
	Log(action, outcome string, cycle uint64, detail string) error
}

type GateConfig struct {
	Store     storage.Store
	Navigator Navigator
	Audit     AuditLogger
	Logger    *slog.Logger
	// EntryPath is the unauthenticated entry view, HomePath the view entered
	// after a session is established.
	EntryPath string
	HomePath  string
}

// Gate is the single owner of the persisted Session. All mutations are
// serialised by opMu; reads of the state never block on storage I/O.
type Gate struct {
	store     storage.Store
	nav       Navigator
	audit     AuditLogger
	log       *slog.Logger
	entryPath string
	homePath  string

	opMu    sync.Mutex
	state   atomic.Int32
	current atomic.Pointer[Session]
}

func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	g := &Gate{
		store:     cfg.Store,
		nav:       cfg.Navigator,
		audit:     cfg.Audit,
		log:       cfg.Logger,
		entryPath: cfg.EntryPath,
		homePath:  cfg.HomePath,
	}
	if g.log == nil {
		g.log = observability.Discard()
	}
	if g.entryPath == "" {
		g.entryPath = DefaultEntryPath
	}
	if g.homePath == "" {
		g.homePath = DefaultHomePath
	}
	return g, nil
}

// Initialize reads the persisted Session once at process start. A storage
// read failure still completes initialization, as Unauthenticated.
func (g *Gate) Initialize(ctx context.Context) (bool, error) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if g.State() != StateUninitialized {
		return false, ErrAlreadyInitialized
	}

	sess, err := g.load(ctx)
	if err != nil {
		g.setUnauthenticated()
		g.auditSafe("session.initialize", audit.OutcomeFailed, err.Error())
		g.log.Error("session initialize failed", "error", err)
		return false, fmt.Errorf("load persisted session: %w", err)
	}
	if !sess.Valid() {
		g.setUnauthenticated()
		g.auditSafe("session.initialize", audit.OutcomeSuccess, "state=unauthenticated")
		g.log.Info("session initialized", "state", StateUnauthenticated.String())
		return false, nil
	}

	g.current.Store(&sess)
	g.state.Store(int32(StateAuthenticated))
	g.auditSafe("session.initialize", audit.OutcomeSuccess, "state=authenticated")
	g.log.Info("session initialized", "state", StateAuthenticated.String())
	return true, nil
}

// Establish persists a freshly issued Session and enters Authenticated.
// Token contents are not inspected. A held session must be torn down first.
func (g *Gate) Establish(ctx context.Context, sess Session) error {
	if !sess.Valid() {
		return ErrEmptyAccessToken
	}

	g.opMu.Lock()
	switch g.State() {
	case StateUninitialized:
		g.opMu.Unlock()
		return ErrNotInitialized
	case StateAuthenticated:
		g.opMu.Unlock()
		return ErrAlreadyAuthenticated
	}
	err := g.store.SetItems(ctx, map[string]string{
		AccessTokenKey:  sess.AccessToken,
		RefreshTokenKey: sess.RefreshToken,
	})
	if err != nil {
		g.opMu.Unlock()
		g.auditSafe("session.establish", audit.OutcomeFailed, err.Error())
		return fmt.Errorf("persist session: %w", err)
	}
	g.current.Store(&sess)
	g.state.Store(int32(StateAuthenticated))
	g.navigate(g.homePath)
	g.opMu.Unlock()

	g.auditSafe("session.establish", audit.OutcomeSuccess, "")
	g.log.Info("session established")
	return nil
}

// Teardown erases the persisted Session and enters Unauthenticated. It is
// idempotent. The in-memory state flips even when erasing storage fails, in
// which case the storage error is returned.
func (g *Gate) Teardown(ctx context.Context) error {
	g.opMu.Lock()
	if g.State() == StateUninitialized {
		g.opMu.Unlock()
		return ErrNotInitialized
	}
	wasAuthenticated := g.State() == StateAuthenticated
	err := g.store.RemoveItems(ctx, AccessTokenKey, RefreshTokenKey)
	g.setUnauthenticated()
	g.navigate(g.entryPath)
	g.opMu.Unlock()

	if err != nil {
		g.auditSafe("session.teardown", audit.OutcomeFailed, err.Error())
		g.log.Error("session teardown could not erase storage", "error", err)
	} else if wasAuthenticated {
		g.auditSafe("session.teardown", audit.OutcomeSuccess, "")
		g.log.Info("session torn down")
	}

	if err != nil {
		return fmt.Errorf("erase persisted session: %w", err)
	}
	return nil
}

func (g *Gate) State() State {
	return State(g.state.Load())
}

func (g *Gate) IsAuthenticated() bool {
	return g.State() == StateAuthenticated
}

func (g *Gate) AccessToken() (string, bool) {
	if !g.IsAuthenticated() {
		return "", false
	}
	sess := g.current.Load()
	if sess == nil || !sess.Valid() {
		return "", false
	}
	return sess.AccessToken, true
}

func (g *Gate) Current() (Session, bool) {
	sess := g.current.Load()
	if sess == nil || !g.IsAuthenticated() {
		return Session{}, false
	}
	return *sess, true
}

func (g *Gate) load(ctx context.Context) (Session, error) {
	access, ok, err := g.store.GetItem(ctx, AccessTokenKey)
	if err != nil {
		return Session{}, err
	}
	if !ok || access == "" {
		return Session{}, nil
	}
	refresh, _, err := g.store.GetItem(ctx, RefreshTokenKey)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: access, RefreshToken: refresh}, nil
}

func (g *Gate) setUnauthenticated() {
	g.current.Store(nil)
	g.state.Store(int32(StateUnauthenticated))
}

func (g *Gate) navigate(path string) {
	if g.nav == nil {
		return
	}
	g.nav.Navigate(path)
}

func (g *Gate) auditSafe(action, outcome, detail string) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(action, outcome, 0, detail); err != nil {
		g.log.Warn("audit log write failed", "action", action, "error", err)
	}
}
