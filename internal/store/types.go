package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a write that targeted a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrDegraded reports a write refused because persistence is down.
	ErrDegraded = errors.New("persistence degraded")
)

// SummaryRecord is one stored conversation summary.
type SummaryRecord struct {
	ID             string    `json:"id"`
	PersonID       string    `json:"person_id"`
	ConversationID string    `json:"conversation_id"`
	Participants   []string  `json:"participants"`
	KeyTopics      []string  `json:"key_topics"`
	ActionItems    []string  `json:"action_items"`
	Text           string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemoryRecord is one durable fact about a person.
type MemoryRecord struct {
	ID        string    `json:"id"`
	PersonID  string    `json:"person_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TodoRecord is one action item for the wearer, optionally tied to a person.
type TodoRecord struct {
	ID          string     `json:"id"`
	PersonID    string     `json:"person_id,omitempty"`
	Content     string     `json:"content"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FaceRecord is the durable profile of a recognized person.
type FaceRecord struct {
	PersonID         string            `json:"person_id"`
	DisplayName      string            `json:"display_name,omitempty"`
	Embedding        []byte            `json:"-"`
	Recap            string            `json:"recap,omitempty"`
	SocialLinks      map[string]string `json:"social_links,omitempty"`
	InteractionCount int               `json:"interaction_count"`
	FirstSeenAt      time.Time         `json:"first_seen_at"`
	LastSeenAt       time.Time         `json:"last_seen_at"`
}

// FacePatch is a partial face update. Nil fields never overwrite stored
// values; BumpInteraction increments the interaction counter.
type FacePatch struct {
	DisplayName     *string
	Embedding       []byte
	Recap           *string
	SocialLinks     map[string]string
	BumpInteraction bool
}

// Gateway persists and retrieves conversation artifacts. Reads report absent
// rows with a false ok or an empty slice, never an error.
type Gateway interface {
	AddSummary(ctx context.Context, rec SummaryRecord) error
	LatestSummary(ctx context.Context, personID string) (SummaryRecord, bool, error)
	SummariesForPerson(ctx context.Context, personID string) ([]SummaryRecord, error)

	AddMemory(ctx context.Context, rec MemoryRecord) error
	MemoriesForPerson(ctx context.Context, personID string) ([]MemoryRecord, error)

	AddTodo(ctx context.Context, rec TodoRecord) error
	CompleteTodo(ctx context.Context, id string) error
	TodosForPerson(ctx context.Context, personID string, openOnly bool) ([]TodoRecord, error)

	UpsertFace(ctx context.Context, personID string, patch FacePatch) error
	GetFace(ctx context.Context, personID string) (FaceRecord, bool, error)

	Degraded() bool
	Close() error
}
