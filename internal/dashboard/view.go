package dashboard

import (
	"sort"
	"strings"

	"taskflow/dashboard/internal/apiclient"
)

type ResourceKind string

const (
	ResourceProfile  ResourceKind = "profile"
	ResourceProjects ResourceKind = "projects"
	ResourceTasks    ResourceKind = "tasks"
)

// ViewModel is the composed dashboard of one aggregation cycle. A resource
// that failed is left empty and listed in Errors.
type ViewModel struct {
	Cycle    uint64                                 `json:"cycle"`
	User     *apiclient.UserProfile                 `json:"user"`
	Projects []apiclient.Project                    `json:"projects"`
	Tasks    []apiclient.Task                       `json:"tasks"`
	Loading  bool                                   `json:"loading"`
	Errors   map[ResourceKind]apiclient.FailureKind `json:"errors"`
}

func newViewModel(cycle uint64) *ViewModel {
	return &ViewModel{
		Cycle:   cycle,
		Loading: true,
		Errors:  make(map[ResourceKind]apiclient.FailureKind),
	}
}

func (v ViewModel) Failed(kind ResourceKind) bool {
	_, ok := v.Errors[kind]
	return ok
}

// Empty reports a fully loaded dashboard with no projects and no tasks.
func (v ViewModel) Empty() bool {
	return !v.Loading && len(v.Projects) == 0 && len(v.Tasks) == 0 &&
		!v.Failed(ResourceProjects) && !v.Failed(ResourceTasks)
}

func (v ViewModel) clone() ViewModel {
	out := v
	if v.User != nil {
		u := *v.User
		out.User = &u
	}
	if v.Projects != nil {
		out.Projects = append([]apiclient.Project(nil), v.Projects...)
	}
	if v.Tasks != nil {
		out.Tasks = append([]apiclient.Task(nil), v.Tasks...)
	}
	out.Errors = make(map[ResourceKind]apiclient.FailureKind, len(v.Errors))
	for k, f := range v.Errors {
		out.Errors[k] = f
	}
	return out
}

func (v ViewModel) errorSummary() string {
	parts := make([]string, 0, len(v.Errors))
	for k, f := range v.Errors {
		parts = append(parts, string(k)+":"+string(f))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
