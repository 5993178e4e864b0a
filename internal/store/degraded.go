package store

import "context"

// DegradedGateway serves when the database is unreachable: every write is
// refused with ErrDegraded and every read comes back empty, so conversation
// handling keeps working without durable summaries.
type DegradedGateway struct{}

func NewDegradedGateway() *DegradedGateway { return &DegradedGateway{} }

func (g *DegradedGateway) AddSummary(context.Context, SummaryRecord) error { return ErrDegraded }

func (g *DegradedGateway) LatestSummary(context.Context, string) (SummaryRecord, bool, error) {
	return SummaryRecord{}, false, nil
}

func (g *DegradedGateway) SummariesForPerson(context.Context, string) ([]SummaryRecord, error) {
	return nil, nil
}

func (g *DegradedGateway) AddMemory(context.Context, MemoryRecord) error { return ErrDegraded }

func (g *DegradedGateway) MemoriesForPerson(context.Context, string) ([]MemoryRecord, error) {
	return nil, nil
}

func (g *DegradedGateway) AddTodo(context.Context, TodoRecord) error { return ErrDegraded }

func (g *DegradedGateway) CompleteTodo(context.Context, string) error { return ErrDegraded }

func (g *DegradedGateway) TodosForPerson(context.Context, string, bool) ([]TodoRecord, error) {
	return nil, nil
}

func (g *DegradedGateway) UpsertFace(context.Context, string, FacePatch) error { return ErrDegraded }

func (g *DegradedGateway) GetFace(context.Context, string) (FaceRecord, bool, error) {
	return FaceRecord{}, false, nil
}

func (g *DegradedGateway) Degraded() bool { return true }

func (g *DegradedGateway) Close() error { return nil }
