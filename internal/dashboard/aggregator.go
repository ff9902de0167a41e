package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	"taskflow/dashboard/internal/apiclient"
	"taskflow/dashboard/internal/audit"
	"taskflow/dashboard/internal/observability"
)

var ErrStaleCycle = errors.New("aggregation cycle superseded")

type SessionGate interface {
	IsAuthenticated() bool
	Teardown(ctx context.Context) error
}

type Fetcher interface {
	Profile(ctx context.Context) (apiclient.UserProfile, error)
	Projects(ctx context.Context) ([]apiclient.Project, error)
	RecentTasks(ctx context.Context, limit int) ([]apiclient.Task, error)
}

type AuditLogger interface {
	Log(action, outcome string, cycle uint64, detail string) error
}

type Config struct {
	Gate    SessionGate
	Fetcher Fetcher
	Audit   AuditLogger
	Logger  *slog.Logger
}

type Aggregator struct {
	gate    SessionGate
	fetcher Fetcher
	audit   AuditLogger
	log     *slog.Logger

	mu   sync.Mutex
	seq  uint64
	view *ViewModel
}

func New(cfg Config) (*Aggregator, error) {
	if cfg.Gate == nil {
		return nil, fmt.Errorf("session gate is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	log := cfg.Logger
	if log == nil {
		log = observability.Discard()
	}
	return &Aggregator{
		gate:    cfg.Gate,
		fetcher: cfg.Fetcher,
		audit:   cfg.Audit,
		log:     log,
	}, nil
}

// LoadView returns once all three fetches have settled. Only the latest cycle
// writes to the ViewModel; a cycle superseded by another LoadView, Exit or
// Logout returns ErrStaleCycle. Cancelling ctx does not abort the fetches or
// the teardown that follows a profile authorization failure.
func (a *Aggregator) LoadView(ctx context.Context) (ViewModel, error) {
	ctx = context.WithoutCancel(ctx)
	if !a.gate.IsAuthenticated() {
		return ViewModel{}, fmt.Errorf("load view: %w", apiclient.ErrUnauthorized)
	}

	a.mu.Lock()
	a.seq++
	cycle := a.seq
	a.view = newViewModel(cycle)
	a.mu.Unlock()

	a.log.Debug("dashboard cycle started", "cycle", cycle)

	var profileErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		p, err := guard(func() (apiclient.UserProfile, error) { return a.fetcher.Profile(ctx) })
		profileErr = err
		a.settle(cycle, ResourceProfile, err, func(v *ViewModel) { v.User = &p })
	})
	wg.Go(func() {
		ps, err := guard(func() ([]apiclient.Project, error) { return a.fetcher.Projects(ctx) })
		a.settle(cycle, ResourceProjects, err, func(v *ViewModel) { v.Projects = nonNil(ps) })
	})
	wg.Go(func() {
		ts, err := guard(func() ([]apiclient.Task, error) {
			return a.fetcher.RecentTasks(ctx, apiclient.RecentTasksLimit)
		})
		a.settle(cycle, ResourceTasks, err, func(v *ViewModel) { v.Tasks = nonNil(ts) })
	})
	wg.Wait()

	a.mu.Lock()
	if !a.currentLocked(cycle) {
		a.mu.Unlock()
		a.log.Debug("dashboard cycle discarded", "cycle", cycle)
		return ViewModel{}, ErrStaleCycle
	}
	a.view.Loading = false
	out := a.view.clone()
	authFailed := profileErr != nil && apiclient.Classify(profileErr) == apiclient.FailureAuthorization
	if authFailed {
		a.view = nil
	}
	a.mu.Unlock()

	if authFailed {
		a.log.Warn("profile authorization failed, tearing session down", "cycle", cycle, "error", profileErr)
		a.auditSafe("view.load", audit.OutcomeFailed, cycle, "profile:authorization")
		if err := a.gate.Teardown(ctx); err != nil {
			a.log.Error("session teardown after authorization failure", "cycle", cycle, "error", err)
		}
		return ViewModel{}, fmt.Errorf("load profile: %w", profileErr)
	}

	switch len(out.Errors) {
	case 0:
		a.auditSafe("view.load", audit.OutcomeSuccess, cycle, "")
		a.log.Info("dashboard loaded", "cycle", cycle, "projects", len(out.Projects), "tasks", len(out.Tasks))
	case 3:
		a.auditSafe("view.load", audit.OutcomeFailed, cycle, out.errorSummary())
		a.log.Warn("dashboard load failed", "cycle", cycle, "errors", out.errorSummary())
	default:
		a.auditSafe("view.load", audit.OutcomePartial, cycle, out.errorSummary())
		a.log.Warn("dashboard partially loaded", "cycle", cycle, "errors", out.errorSummary())
	}
	return out, nil
}

func (a *Aggregator) Snapshot() (ViewModel, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view == nil {
		return ViewModel{}, false
	}
	return a.view.clone(), true
}

func (a *Aggregator) Exit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	a.view = nil
}

func (a *Aggregator) Logout(ctx context.Context) error {
	a.Exit()
	if err := a.gate.Teardown(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (a *Aggregator) settle(cycle uint64, kind ResourceKind, err error, apply func(*ViewModel)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.currentLocked(cycle) {
		return
	}
	if err != nil {
		a.view.Errors[kind] = apiclient.Classify(err)
		a.log.Debug("dashboard resource failed", "cycle", cycle, "resource", string(kind), "error", err)
		return
	}
	apply(a.view)
}

func (a *Aggregator) currentLocked(cycle uint64) bool {
	return a.view != nil && a.seq == cycle && a.view.Cycle == cycle
}

func (a *Aggregator) auditSafe(action, outcome string, cycle uint64, detail string) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(action, outcome, cycle, detail); err != nil {
		a.log.Warn("audit log write failed", "action", action, "error", err)
	}
}

func guard[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("%w: fetch panicked: %v", apiclient.ErrServer, r)
		}
	}()
	return fn()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
