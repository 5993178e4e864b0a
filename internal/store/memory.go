package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryGateway is a simple in-process gateway for local/dev use.
type InMemoryGateway struct {
	mu        sync.RWMutex
	summaries map[string][]SummaryRecord
	memories  map[string][]MemoryRecord
	todos     []TodoRecord
	faces     map[string]FaceRecord
}

func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		summaries: make(map[string][]SummaryRecord),
		memories:  make(map[string][]MemoryRecord),
		faces:     make(map[string]FaceRecord),
	}
}

func (g *InMemoryGateway) AddSummary(_ context.Context, rec SummaryRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	g.summaries[rec.PersonID] = append(g.summaries[rec.PersonID], rec)
	return nil
}

func (g *InMemoryGateway) LatestSummary(_ context.Context, personID string) (SummaryRecord, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := g.summaries[personID]
	if len(arr) == 0 {
		return SummaryRecord{}, false, nil
	}
	return arr[len(arr)-1], true, nil
}

func (g *InMemoryGateway) SummariesForPerson(_ context.Context, personID string) ([]SummaryRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := g.summaries[personID]
	// Most recent first, matching the SQL ordering.
	out := make([]SummaryRecord, 0, len(arr))
	for i := len(arr) - 1; i >= 0; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (g *InMemoryGateway) AddMemory(_ context.Context, rec MemoryRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	g.memories[rec.PersonID] = append(g.memories[rec.PersonID], rec)
	return nil
}

func (g *InMemoryGateway) MemoriesForPerson(_ context.Context, personID string) ([]MemoryRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := g.memories[personID]
	out := make([]MemoryRecord, len(arr))
	copy(out, arr)
	return out, nil
}

func (g *InMemoryGateway) AddTodo(_ context.Context, rec TodoRecord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Done = false
	rec.CompletedAt = nil
	g.todos = append(g.todos, rec)
	return nil
}

func (g *InMemoryGateway) CompleteTodo(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.todos {
		if g.todos[i].ID != id {
			continue
		}
		now := time.Now().UTC()
		g.todos[i].Done = true
		g.todos[i].CompletedAt = &now
		return nil
	}
	return ErrNotFound
}

func (g *InMemoryGateway) TodosForPerson(_ context.Context, personID string, openOnly bool) ([]TodoRecord, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []TodoRecord
	for _, rec := range g.todos {
		if rec.PersonID != personID {
			continue
		}
		if openOnly && rec.Done {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *InMemoryGateway) UpsertFace(_ context.Context, personID string, patch FacePatch) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().UTC()
	rec, ok := g.faces[personID]
	if !ok {
		rec = FaceRecord{PersonID: personID, FirstSeenAt: now}
	}
	if patch.DisplayName != nil {
		rec.DisplayName = *patch.DisplayName
	}
	if patch.Embedding != nil {
		rec.Embedding = patch.Embedding
	}
	if patch.Recap != nil {
		rec.Recap = *patch.Recap
	}
	if patch.SocialLinks != nil {
		rec.SocialLinks = patch.SocialLinks
	}
	if patch.BumpInteraction {
		rec.InteractionCount++
	}
	rec.LastSeenAt = now
	g.faces[personID] = rec
	return nil
}

func (g *InMemoryGateway) GetFace(_ context.Context, personID string) (FaceRecord, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.faces[personID]
	return rec, ok, nil
}

func (g *InMemoryGateway) Degraded() bool { return false }

func (g *InMemoryGateway) Close() error { return nil }
