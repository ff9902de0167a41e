package apiclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecentTasksLimit is how many tasks the dashboard asks for; the server
// truncates, the client never pages further.
const RecentTasksLimit = 10

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskDone, TaskBlocked:
		return true
	default:
		return false
	}
}

type UserProfile struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type Project struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

type Task struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	DueAt    *time.Time `json:"due_at"`
	Priority int        `json:"priority"`
	// AIScore is in [0,1] when present.
	AIScore *float64 `json:"ai_score"`
}

type userWire struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	CreatedAt *timestamp `json:"created_at"`
}

func (w userWire) profile() UserProfile {
	return UserProfile{ID: w.ID, Email: w.Email, CreatedAt: w.CreatedAt.ptr()}
}

type taskWire struct {
	ID       int64      `json:"id"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	DueAt    *timestamp `json:"due_at"`
	Priority int        `json:"priority"`
	AIScore  *float64   `json:"ai_score"`
}

func (w taskWire) task() Task {
	t := Task{
		ID:       w.ID,
		Title:    w.Title,
		Status:   w.Status,
		DueAt:    w.DueAt.ptr(),
		Priority: w.Priority,
		AIScore:  w.AIScore,
	}
	if t.AIScore != nil && (*t.AIScore < 0 || *t.AIScore > 1) {
		t.AIScore = nil
	}
	return t
}

type taskPage struct {
	Items []taskWire `json:"items"`
	Total int        `json:"total"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// timestamp accepts RFC 3339 as well as the zone-less ISO 8601 form the
// backend emits for naive datetimes, which are taken as UTC.
type timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range naiveLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported format %q", s)
}

func (t *timestamp) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}
