package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresGateway persists conversation artifacts in PostgreSQL.
type PostgresGateway struct {
	pool *pgxpool.Pool
}

func NewPostgresGateway(ctx context.Context, databaseURL string) (*PostgresGateway, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresGateway{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS summaries (
			id TEXT PRIMARY KEY,
			person_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			participants TEXT[] NOT NULL DEFAULT '{}',
			key_topics TEXT[] NOT NULL DEFAULT '{}',
			action_items TEXT[] NOT NULL DEFAULT '{}',
			summary TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_person_created ON summaries (person_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS person_memories (
			id TEXT PRIMARY KEY,
			person_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_person_memories_person ON person_memories (person_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS todos (
			id TEXT PRIMARY KEY,
			person_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			done BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);`,
		`CREATE TABLE IF NOT EXISTS faces (
			person_id TEXT PRIMARY KEY,
			display_name TEXT,
			embedding BYTEA,
			recap TEXT,
			social_links JSONB,
			interaction_count INT NOT NULL DEFAULT 0,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (g *PostgresGateway) AddSummary(ctx context.Context, rec SummaryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO summaries (id, person_id, conversation_id, participants, key_topics, action_items, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.PersonID, rec.ConversationID,
		rec.Participants, rec.KeyTopics, rec.ActionItems,
		rec.Text, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add summary: %w", err)
	}
	return nil
}

func (g *PostgresGateway) LatestSummary(ctx context.Context, personID string) (SummaryRecord, bool, error) {
	row := g.pool.QueryRow(ctx,
		`SELECT id, person_id, conversation_id, participants, key_topics, action_items, summary, created_at
		 FROM summaries WHERE person_id=$1 ORDER BY created_at DESC LIMIT 1`,
		personID,
	)
	var rec SummaryRecord
	err := row.Scan(&rec.ID, &rec.PersonID, &rec.ConversationID,
		&rec.Participants, &rec.KeyTopics, &rec.ActionItems, &rec.Text, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SummaryRecord{}, false, nil
	}
	if err != nil {
		return SummaryRecord{}, false, fmt.Errorf("latest summary: %w", err)
	}
	return rec, true, nil
}

func (g *PostgresGateway) SummariesForPerson(ctx context.Context, personID string) ([]SummaryRecord, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT id, person_id, conversation_id, participants, key_topics, action_items, summary, created_at
		 FROM summaries WHERE person_id=$1 ORDER BY created_at DESC`,
		personID,
	)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []SummaryRecord
	for rows.Next() {
		var rec SummaryRecord
		if err := rows.Scan(&rec.ID, &rec.PersonID, &rec.ConversationID,
			&rec.Participants, &rec.KeyTopics, &rec.ActionItems, &rec.Text, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return out, nil
}

func (g *PostgresGateway) AddMemory(ctx context.Context, rec MemoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO person_memories (id, person_id, content, created_at) VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.PersonID, rec.Content, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add memory: %w", err)
	}
	return nil
}

func (g *PostgresGateway) MemoriesForPerson(ctx context.Context, personID string) ([]MemoryRecord, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT id, person_id, content, created_at
		 FROM person_memories WHERE person_id=$1 ORDER BY created_at ASC`,
		personID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var rec MemoryRecord
		if err := rows.Scan(&rec.ID, &rec.PersonID, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return out, nil
}

func (g *PostgresGateway) AddTodo(ctx context.Context, rec TodoRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO todos (id, person_id, content, done, created_at) VALUES ($1, $2, $3, FALSE, $4)`,
		rec.ID, rec.PersonID, rec.Content, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add todo: %w", err)
	}
	return nil
}

func (g *PostgresGateway) CompleteTodo(ctx context.Context, id string) error {
	tag, err := g.pool.Exec(ctx,
		`UPDATE todos SET done = TRUE, completed_at = now() WHERE id=$1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("complete todo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *PostgresGateway) TodosForPerson(ctx context.Context, personID string, openOnly bool) ([]TodoRecord, error) {
	query := `SELECT id, person_id, content, done, created_at, completed_at
		 FROM todos WHERE person_id=$1 ORDER BY created_at ASC`
	if openOnly {
		query = `SELECT id, person_id, content, done, created_at, completed_at
		 FROM todos WHERE person_id=$1 AND NOT done ORDER BY created_at ASC`
	}

	rows, err := g.pool.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var out []TodoRecord
	for rows.Next() {
		var rec TodoRecord
		if err := rows.Scan(&rec.ID, &rec.PersonID, &rec.Content, &rec.Done, &rec.CreatedAt, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan todo row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate todo rows: %w", err)
	}
	return out, nil
}

// UpsertFace merges the patch into the stored face row. Absent patch fields
// keep their stored values via COALESCE.
func (g *PostgresGateway) UpsertFace(ctx context.Context, personID string, patch FacePatch) error {
	var links []byte
	if patch.SocialLinks != nil {
		b, err := json.Marshal(patch.SocialLinks)
		if err != nil {
			return fmt.Errorf("encode social links: %w", err)
		}
		links = b
	}
	bump := 0
	if patch.BumpInteraction {
		bump = 1
	}

	_, err := g.pool.Exec(ctx,
		`INSERT INTO faces (person_id, display_name, embedding, recap, social_links, interaction_count)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (person_id) DO UPDATE SET
		   display_name = COALESCE($2, faces.display_name),
		   embedding = COALESCE($3, faces.embedding),
		   recap = COALESCE($4, faces.recap),
		   social_links = COALESCE($5, faces.social_links),
		   interaction_count = faces.interaction_count + $6,
		   last_seen_at = now()`,
		personID, patch.DisplayName, patch.Embedding, patch.Recap, links, bump,
	)
	if err != nil {
		return fmt.Errorf("upsert face: %w", err)
	}
	return nil
}

func (g *PostgresGateway) GetFace(ctx context.Context, personID string) (FaceRecord, bool, error) {
	row := g.pool.QueryRow(ctx,
		`SELECT person_id, COALESCE(display_name, ''), embedding, COALESCE(recap, ''), social_links,
		        interaction_count, first_seen_at, last_seen_at
		 FROM faces WHERE person_id=$1`,
		personID,
	)

	var rec FaceRecord
	var links []byte
	err := row.Scan(&rec.PersonID, &rec.DisplayName, &rec.Embedding, &rec.Recap, &links,
		&rec.InteractionCount, &rec.FirstSeenAt, &rec.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return FaceRecord{}, false, nil
	}
	if err != nil {
		return FaceRecord{}, false, fmt.Errorf("get face: %w", err)
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &rec.SocialLinks); err != nil {
			return FaceRecord{}, false, fmt.Errorf("decode social links: %w", err)
		}
	}
	return rec, true, nil
}

func (g *PostgresGateway) Degraded() bool { return false }

func (g *PostgresGateway) Close() error {
	g.pool.Close()
	return nil
}
