package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskflow/dashboard/internal/apiclient"
)

type fakeGate struct {
	authenticated atomic.Bool
	teardowns     atomic.Int32
	teardownErr   error
}

func newFakeGate() *fakeGate {
	g := &fakeGate{}
	g.authenticated.Store(true)
	return g
}

func (g *fakeGate) IsAuthenticated() bool { return g.authenticated.Load() }

func (g *fakeGate) Teardown(context.Context) error {
	g.teardowns.Add(1)
	g.authenticated.Store(false)
	return g.teardownErr
}

type fakeFetcher struct {
	profileFunc  func(ctx context.Context) (apiclient.UserProfile, error)
	projectsFunc func(ctx context.Context) ([]apiclient.Project, error)
	tasksFunc    func(ctx context.Context, limit int) ([]apiclient.Task, error)
}

func (f fakeFetcher) Profile(ctx context.Context) (apiclient.UserProfile, error) {
	if f.profileFunc == nil {
		return apiclient.UserProfile{ID: 1, Email: "ada@example.com"}, nil
	}
	return f.profileFunc(ctx)
}

func (f fakeFetcher) Projects(ctx context.Context) ([]apiclient.Project, error) {
	if f.projectsFunc == nil {
		return []apiclient.Project{{ID: 1, Name: "Launch"}}, nil
	}
	return f.projectsFunc(ctx)
}

func (f fakeFetcher) RecentTasks(ctx context.Context, limit int) ([]apiclient.Task, error) {
	if f.tasksFunc == nil {
		return []apiclient.Task{{ID: 7, Title: "Ship", Status: apiclient.TaskTodo}}, nil
	}
	return f.tasksFunc(ctx, limit)
}

type auditEntry struct {
	action, outcome string
	cycle           uint64
	detail          string
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (r *recordingAudit) Log(action, outcome string, cycle uint64, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, auditEntry{action, outcome, cycle, detail})
	return nil
}

func (r *recordingAudit) last() auditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return auditEntry{}
	}
	return r.entries[len(r.entries)-1]
}

func newAggregator(t *testing.T, gate SessionGate, f Fetcher, a AuditLogger) *Aggregator {
	t.Helper()
	agg, err := New(Config{Gate: gate, Fetcher: f, Audit: a})
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return agg
}

func TestNewValidatesDependencies(t *testing.T) {
	if _, err := New(Config{Fetcher: fakeFetcher{}}); err == nil {
		t.Fatalf("expected error without gate")
	}
	if _, err := New(Config{Gate: newFakeGate()}); err == nil {
		t.Fatalf("expected error without fetcher")
	}
}

func TestLoadViewOutcomeGrid(t *testing.T) {
	serverErr := &apiclient.StatusError{Method: "GET", StatusCode: http.StatusInternalServerError}
	for mask := 0; mask < 8; mask++ {
		profileFails := mask&1 != 0
		projectsFail := mask&2 != 0
		tasksFail := mask&4 != 0

		t.Run(fmt.Sprintf("profile=%t/projects=%t/tasks=%t", !profileFails, !projectsFail, !tasksFail), func(t *testing.T) {
			f := fakeFetcher{}
			if profileFails {
				f.profileFunc = func(context.Context) (apiclient.UserProfile, error) { return apiclient.UserProfile{}, serverErr }
			}
			if projectsFail {
				f.projectsFunc = func(context.Context) ([]apiclient.Project, error) {
					return nil, fmt.Errorf("%w: connection refused", apiclient.ErrNetwork)
				}
			}
			if tasksFail {
				f.tasksFunc = func(context.Context, int) ([]apiclient.Task, error) { return nil, serverErr }
			}

			gate := newFakeGate()
			agg := newAggregator(t, gate, f, nil)
			vm, err := agg.LoadView(context.Background())
			if err != nil {
				t.Fatalf("load view: %v", err)
			}
			if vm.Loading {
				t.Fatalf("expected loading false after all settled")
			}
			if (vm.User == nil) != profileFails || vm.Failed(ResourceProfile) != profileFails {
				t.Fatalf("profile mismatch: user=%v errors=%v", vm.User, vm.Errors)
			}
			if (len(vm.Projects) == 0) != projectsFail || vm.Failed(ResourceProjects) != projectsFail {
				t.Fatalf("projects mismatch: %v errors=%v", vm.Projects, vm.Errors)
			}
			if (len(vm.Tasks) == 0) != tasksFail || vm.Failed(ResourceTasks) != tasksFail {
				t.Fatalf("tasks mismatch: %v errors=%v", vm.Tasks, vm.Errors)
			}
			if projectsFail && vm.Errors[ResourceProjects] != apiclient.FailureNetwork {
				t.Fatalf("expected network failure for projects, got %q", vm.Errors[ResourceProjects])
			}
			if tasksFail && vm.Errors[ResourceTasks] != apiclient.FailureServer {
				t.Fatalf("expected server failure for tasks, got %q", vm.Errors[ResourceTasks])
			}
			if gate.teardowns.Load() != 0 {
				t.Fatalf("non-auth failures must not tear down the session")
			}
		})
	}
}

func TestLoadViewRequestsRecentTaskLimit(t *testing.T) {
	var gotLimit atomic.Int32
	f := fakeFetcher{tasksFunc: func(_ context.Context, limit int) ([]apiclient.Task, error) {
		gotLimit.Store(int32(limit))
		return nil, nil
	}}
	agg := newAggregator(t, newFakeGate(), f, nil)
	if _, err := agg.LoadView(context.Background()); err != nil {
		t.Fatalf("load view: %v", err)
	}
	if gotLimit.Load() != apiclient.RecentTasksLimit {
		t.Fatalf("expected limit %d, got %d", apiclient.RecentTasksLimit, gotLimit.Load())
	}
}

func TestLoadViewEmptyDashboard(t *testing.T) {
	f := fakeFetcher{
		projectsFunc: func(context.Context) ([]apiclient.Project, error) { return []apiclient.Project{}, nil },
		tasksFunc:    func(context.Context, int) ([]apiclient.Task, error) { return nil, nil },
	}
	audit := &recordingAudit{}
	agg := newAggregator(t, newFakeGate(), f, audit)

	vm, err := agg.LoadView(context.Background())
	if err != nil {
		t.Fatalf("load view: %v", err)
	}
	if !vm.Empty() {
		t.Fatalf("expected empty dashboard, got %+v", vm)
	}
	if vm.User == nil || vm.User.Email != "ada@example.com" {
		t.Fatalf("expected profile populated, got %+v", vm.User)
	}
	if len(vm.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", vm.Errors)
	}
	if vm.Projects == nil || vm.Tasks == nil {
		t.Fatalf("expected empty non-nil slices")
	}
	if got := audit.last(); got.action != "view.load" || got.outcome != "success" || got.cycle != vm.Cycle {
		t.Fatalf("unexpected audit entry: %+v", got)
	}
}

func TestLoadViewProfileAuthorizationFailureTearsDown(t *testing.T) {
	f := fakeFetcher{profileFunc: func(context.Context) (apiclient.UserProfile, error) {
		return apiclient.UserProfile{}, &apiclient.StatusError{Method: "GET", Path: "/auth/me", StatusCode: http.StatusUnauthorized}
	}}
	gate := newFakeGate()
	audit := &recordingAudit{}
	agg := newAggregator(t, gate, f, audit)

	_, err := agg.LoadView(context.Background())
	if !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if gate.teardowns.Load() != 1 {
		t.Fatalf("expected one teardown, got %d", gate.teardowns.Load())
	}
	if gate.IsAuthenticated() {
		t.Fatalf("expected unauthenticated after teardown")
	}
	if _, ok := agg.Snapshot(); ok {
		t.Fatalf("expected view model discarded")
	}
	if got := audit.last(); got.outcome != "failed" || got.detail != "profile:authorization" {
		t.Fatalf("unexpected audit entry: %+v", got)
	}
}

func TestLoadViewProfileAuthorizationFailureRegardlessOfOthers(t *testing.T) {
	unauthorized := &apiclient.StatusError{Method: "GET", Path: "/auth/me", StatusCode: http.StatusUnauthorized}
	for mask := 0; mask < 4; mask++ {
		projectsFail := mask&1 != 0
		tasksFail := mask&2 != 0

		t.Run(fmt.Sprintf("projects=%t/tasks=%t", !projectsFail, !tasksFail), func(t *testing.T) {
			f := fakeFetcher{profileFunc: func(context.Context) (apiclient.UserProfile, error) {
				return apiclient.UserProfile{}, unauthorized
			}}
			if projectsFail {
				f.projectsFunc = func(context.Context) ([]apiclient.Project, error) {
					return nil, fmt.Errorf("%w: connection reset", apiclient.ErrNetwork)
				}
			}
			if tasksFail {
				f.tasksFunc = func(context.Context, int) ([]apiclient.Task, error) {
					return nil, &apiclient.StatusError{Method: "GET", Path: "/tasks", StatusCode: http.StatusBadGateway}
				}
			}

			gate := newFakeGate()
			agg := newAggregator(t, gate, f, nil)
			_, err := agg.LoadView(context.Background())
			if !errors.Is(err, apiclient.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
			if gate.teardowns.Load() != 1 || gate.IsAuthenticated() {
				t.Fatalf("expected exactly one teardown, got %d", gate.teardowns.Load())
			}
			if _, ok := agg.Snapshot(); ok {
				t.Fatalf("expected view model discarded")
			}
		})
	}
}

func TestLoadViewAuthorizationFailureOnOtherResourceIsRecorded(t *testing.T) {
	f := fakeFetcher{projectsFunc: func(context.Context) ([]apiclient.Project, error) {
		return nil, &apiclient.StatusError{Method: "GET", Path: "/projects", StatusCode: http.StatusForbidden}
	}}
	gate := newFakeGate()
	agg := newAggregator(t, gate, f, nil)

	vm, err := agg.LoadView(context.Background())
	if err != nil {
		t.Fatalf("load view: %v", err)
	}
	if vm.Errors[ResourceProjects] != apiclient.FailureAuthorization {
		t.Fatalf("expected authorization failure for projects, got %v", vm.Errors)
	}
	if gate.teardowns.Load() != 0 {
		t.Fatalf("only the profile escalates to teardown")
	}
}

func TestLoadViewRequiresAuthenticatedSession(t *testing.T) {
	var calls atomic.Int32
	f := fakeFetcher{profileFunc: func(context.Context) (apiclient.UserProfile, error) {
		calls.Add(1)
		return apiclient.UserProfile{}, nil
	}}
	gate := newFakeGate()
	gate.authenticated.Store(false)
	agg := newAggregator(t, gate, f, nil)

	_, err := agg.LoadView(context.Background())
	if !errors.Is(err, apiclient.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("no fetch may be issued without a session")
	}
}

func TestLoadViewPanicRecordedAsServerFailure(t *testing.T) {
	f := fakeFetcher{tasksFunc: func(context.Context, int) ([]apiclient.Task, error) {
		panic("decoder exploded")
	}}
	audit := &recordingAudit{}
	agg := newAggregator(t, newFakeGate(), f, audit)

	vm, err := agg.LoadView(context.Background())
	if err != nil {
		t.Fatalf("load view: %v", err)
	}
	if vm.Errors[ResourceTasks] != apiclient.FailureServer {
		t.Fatalf("expected server failure for tasks, got %v", vm.Errors)
	}
	if vm.User == nil || len(vm.Projects) != 1 {
		t.Fatalf("other resources must still render: %+v", vm)
	}
	if got := audit.last(); got.outcome != "partial" || got.detail != "tasks:server" {
		t.Fatalf("unexpected audit entry: %+v", got)
	}
}

func TestLoadViewLoadingUntilAllSettle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := fakeFetcher{tasksFunc: func(context.Context, int) ([]apiclient.Task, error) {
		close(started)
		<-release
		return nil, nil
	}}
	agg := newAggregator(t, newFakeGate(), f, nil)

	done := make(chan ViewModel, 1)
	go func() {
		vm, _ := agg.LoadView(context.Background())
		done <- vm
	}()

	<-started
	snap, ok := agg.Snapshot()
	if !ok || !snap.Loading {
		t.Fatalf("expected loading snapshot while tasks in flight, got ok=%t %+v", ok, snap)
	}
	close(release)

	select {
	case vm := <-done:
		if vm.Loading {
			t.Fatalf("expected loading false after join")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("load view did not return")
	}
	snap, _ = agg.Snapshot()
	if snap.Loading {
		t.Fatalf("loading must not revert to true within the cycle")
	}
}

func TestLoadViewOverlappingCyclesLatestWins(t *testing.T) {
	var calls atomic.Int32
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	f := fakeFetcher{profileFunc: func(context.Context) (apiclient.UserProfile, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-releaseFirst
			return apiclient.UserProfile{ID: 1, Email: "old@example.com"}, nil
		}
		return apiclient.UserProfile{ID: 1, Email: "new@example.com"}, nil
	}}
	agg := newAggregator(t, newFakeGate(), f, nil)

	firstErr := make(chan error, 1)
	go func() {
		_, err := agg.LoadView(context.Background())
		firstErr <- err
	}()
	<-firstStarted

	second, err := agg.LoadView(context.Background())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	close(releaseFirst)

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrStaleCycle) {
			t.Fatalf("expected ErrStaleCycle for superseded cycle, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first cycle did not return")
	}

	snap, ok := agg.Snapshot()
	if !ok {
		t.Fatalf("expected active view")
	}
	if snap.Cycle != second.Cycle || snap.User == nil || snap.User.Email != "new@example.com" {
		t.Fatalf("stale settlement leaked into view: %+v", snap)
	}
	if snap.Loading {
		t.Fatalf("expected loading false")
	}
}

func TestStaleProfileAuthorizationFailureDoesNotTearDown(t *testing.T) {
	var calls atomic.Int32
	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	f := fakeFetcher{profileFunc: func(context.Context) (apiclient.UserProfile, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-releaseFirst
			return apiclient.UserProfile{}, &apiclient.StatusError{StatusCode: http.StatusUnauthorized}
		}
		return apiclient.UserProfile{ID: 2}, nil
	}}
	gate := newFakeGate()
	agg := newAggregator(t, gate, f, nil)

	firstErr := make(chan error, 1)
	go func() {
		_, err := agg.LoadView(context.Background())
		firstErr <- err
	}()
	<-firstStarted
	if _, err := agg.LoadView(context.Background()); err != nil {
		t.Fatalf("second load: %v", err)
	}
	close(releaseFirst)

	if err := <-firstErr; !errors.Is(err, ErrStaleCycle) {
		t.Fatalf("expected ErrStaleCycle, got %v", err)
	}
	if gate.teardowns.Load() != 0 {
		t.Fatalf("stale cycle must not tear down the session")
	}
}

func TestExitDiscardsInFlightCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := fakeFetcher{projectsFunc: func(context.Context) ([]apiclient.Project, error) {
		close(started)
		<-release
		return nil, nil
	}}
	agg := newAggregator(t, newFakeGate(), f, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := agg.LoadView(context.Background())
		errCh <- err
	}()
	<-started
	agg.Exit()
	close(release)

	if err := <-errCh; !errors.Is(err, ErrStaleCycle) {
		t.Fatalf("expected ErrStaleCycle after exit, got %v", err)
	}
	if _, ok := agg.Snapshot(); ok {
		t.Fatalf("expected no view after exit")
	}
}

func TestLogoutTearsDownAndDiscardsView(t *testing.T) {
	gate := newFakeGate()
	agg := newAggregator(t, gate, fakeFetcher{}, nil)
	if _, err := agg.LoadView(context.Background()); err != nil {
		t.Fatalf("load view: %v", err)
	}
	if _, ok := agg.Snapshot(); !ok {
		t.Fatalf("expected view after load")
	}

	if err := agg.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if gate.teardowns.Load() != 1 || gate.IsAuthenticated() {
		t.Fatalf("expected teardown via gate")
	}
	if _, ok := agg.Snapshot(); ok {
		t.Fatalf("expected view discarded on logout")
	}

	gate.teardownErr = errors.New("disk full")
	if err := agg.Logout(context.Background()); err == nil {
		t.Fatalf("expected teardown error to surface")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	agg := newAggregator(t, newFakeGate(), fakeFetcher{}, nil)
	if _, err := agg.LoadView(context.Background()); err != nil {
		t.Fatalf("load view: %v", err)
	}
	snap, _ := agg.Snapshot()
	snap.Projects[0].Name = "mutated"
	snap.Errors[ResourceTasks] = apiclient.FailureServer

	again, _ := agg.Snapshot()
	if again.Projects[0].Name != "Launch" || len(again.Errors) != 0 {
		t.Fatalf("snapshot mutation leaked: %+v", again)
	}
}
