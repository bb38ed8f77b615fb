// Package session implements persistence for one run's conversation state
// (spec §6's session snapshot contract): a JSON file store by default, with
// an optional SQLite-backed store behind config.SessionConfig{Backend:
// "sqlite"} for deployments that want queryable history without a server
// process.
package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/observability"
)

// TodoStatus mirrors spec §6's snapshot contract exactly — distinct from
// tool.TodoItem's lowercase in-memory status, since the snapshot is an
// external interface with its own stable vocabulary.
type TodoStatus string

const (
	TodoPending    TodoStatus = "PENDING"
	TodoInProgress TodoStatus = "IN_PROGRESS"
	TodoDone       TodoStatus = "DONE"
	TodoFailed     TodoStatus = "FAILED"
)

// TodoSnapshot is one entry of the snapshot's todos.items list.
type TodoSnapshot struct {
	Description string     `json:"description"`
	Status      TodoStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MessageSnapshot is one conversation turn as persisted to disk — a plain
// struct rather than llm.Message directly, since the wire/storage shape
// (spec §6's explicit field list) is allowed to diverge from the in-memory
// shape without the storage layer importing llm's tool-call types.
type MessageSnapshot struct {
	Role       string                   `json:"role"`
	Content    string                   `json:"content"`
	ToolCalls  []map[string]interface{} `json:"tool_calls,omitempty"`
	ToolCallID string                   `json:"tool_call_id,omitempty"`
	Name       string                   `json:"name,omitempty"`
}

// Snapshot is the full persisted state of one session, per spec §6's
// "Session snapshot (JSON)" field list.
type Snapshot struct {
	SessionID     string                 `json:"session_id"`
	SystemPrompt  string                 `json:"system_prompt"`
	Messages      []MessageSnapshot      `json:"messages"`
	Todos         TodosSnapshot          `json:"todos"`
	WorkingDir    string                 `json:"working_dir"`
	Model         string                 `json:"model"`
	Temperature   float64                `json:"temperature"`
	MaxIterations int                    `json:"max_iterations"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// TodosSnapshot wraps the todo list so the JSON shape matches spec §6's
// `todos.items[]` nesting exactly.
type TodosSnapshot struct {
	Items []TodoSnapshot `json:"items"`
}

// Store persists and retrieves session snapshots.
type Store interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	List(ctx context.Context) ([]*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// ErrNotFound is returned by Load/Delete for an unknown session id.
var ErrNotFound = fmt.Errorf("session: not found")

// Open builds the store named by cfg.Backend (defaulting to the JSON file
// store), rooted at cfg.Dir.
func Open(cfg config.SessionConfig) (Store, error) {
	cfg.SetDefaults()
	switch cfg.Backend {
	case "sqlite":
		return OpenSQLiteStore(cfg.Dir)
	case "file", "":
		return OpenFileStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.Backend)
	}
}

// listSummaries turns a store's full snapshot list into the lightweight
// view the observability status server exposes over HTTP, sorted by
// updated_at descending per spec §6's "Sessions listing sorts by
// updated_at descending".
func listSummaries(ctx context.Context, s Store) []observability.SessionSummary {
	snaps, err := s.List(ctx)
	if err != nil {
		return nil
	}
	out := make([]observability.SessionSummary, 0, len(snaps))
	for _, snap := range snaps {
		completed, failed := 0, 0
		for _, item := range snap.Todos.Items {
			switch item.Status {
			case TodoDone:
				completed++
			case TodoFailed:
				failed++
			}
		}
		out = append(out, observability.SessionSummary{
			ID:             snap.SessionID,
			TasksTotal:     len(snap.Todos.Items),
			TasksCompleted: completed,
			TasksFailed:    failed,
			LastUpdateTime: snap.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdateTime.After(out[j].LastUpdateTime) })
	return out
}

// Lister adapts a Store to observability.SessionLister.
type Lister struct {
	Store Store
}

func (l Lister) ListSummaries() []observability.SessionSummary {
	return listSummaries(context.Background(), l.Store)
}
