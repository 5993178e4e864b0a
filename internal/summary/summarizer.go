package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mirelabs/mira/internal/agent"
	"github.com/mirelabs/mira/internal/convo"
	"github.com/mirelabs/mira/internal/store"
)

const summarySystem = `You summarize a conversation overheard through smart glasses. Reply with a single JSON object:
{"participants": [...], "key_topics": [...], "action_items": [...], "summary": "..."}
key_topics are short durable facts worth remembering about the person. action_items are concrete follow-ups for the wearer. The summary is 2-3 sentences.`

const recapSystem = `You write a one-paragraph recap for a heads-up display, shown when the wearer meets this person again. Base it on the conversation summaries provided, most recent first. Be warm and concrete; mention open threads.`

// errorSummaryPrefix marks summaries produced without a working model, so
// operators can spot degraded runs in stored data.
const errorSummaryPrefix = "Error generating summary:"

// Result is a structured conversation summary.
type Result struct {
	Participants []string `json:"participants"`
	KeyTopics    []string `json:"key_topics"`
	ActionItems  []string `json:"action_items"`
	Text         string   `json:"summary"`
}

// Summarizer turns finished conversations into stored summaries, durable
// facts and todos, and keeps the per-person recap fresh.
type Summarizer struct {
	client  agent.Client
	gateway store.Gateway
}

func NewSummarizer(client agent.Client, gateway store.Gateway) *Summarizer {
	return &Summarizer{client: client, gateway: gateway}
}

// Summarize produces a structured summary of the conversation. Empty
// conversations yield (nil, nil) without a model call. A model failure yields
// a Result whose text carries the error marker, plus the error itself.
func (s *Summarizer) Summarize(ctx context.Context, state *convo.State) (*Result, error) {
	if state == nil || state.Empty() {
		return nil, nil
	}

	req := agent.Request{
		System: summarySystem,
		Messages: []agent.ChatMessage{
			{Role: "user", Text: transcript(state)},
		},
	}
	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		return &Result{
			Participants: state.Participants(),
			Text:         fmt.Sprintf("%s %v", errorSummaryPrefix, err),
		}, fmt.Errorf("summarize: %w", err)
	}

	res := parseResult(resp.Text)
	if len(res.Participants) == 0 {
		res.Participants = state.Participants()
	}
	return res, nil
}

// SummarizeAndSave summarizes the conversation and persists everything it
// can: the summary row, key topics as person memories, action items as todos,
// and a refreshed face recap. Conversations with an unrecognized person are
// skipped; there is no durable identity to attach anything to.
func (s *Summarizer) SummarizeAndSave(ctx context.Context, state *convo.State) error {
	if state == nil || state.Empty() {
		return nil
	}
	if !state.Person.Known {
		return nil
	}
	if s.gateway.Degraded() {
		// Nothing the model produces could be stored.
		log.Printf("summary: storage degraded, skipping summary for %s", state.ConversationID)
		return nil
	}

	res, serr := s.Summarize(ctx, state)
	if res == nil {
		return serr
	}
	personID := state.Person.Value

	rec := store.SummaryRecord{
		PersonID:       personID,
		ConversationID: state.ConversationID,
		Participants:   res.Participants,
		KeyTopics:      res.KeyTopics,
		ActionItems:    res.ActionItems,
		Text:           res.Text,
	}
	if err := s.gateway.AddSummary(ctx, rec); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}

	// Fan-out is best effort; a lost topic or todo is logged, not fatal.
	for _, topic := range res.KeyTopics {
		if err := s.gateway.AddMemory(ctx, store.MemoryRecord{PersonID: personID, Content: topic}); err != nil {
			log.Printf("summary: drop key topic for %s: %v", personID, err)
		}
	}
	for _, item := range res.ActionItems {
		if err := s.gateway.AddTodo(ctx, store.TodoRecord{PersonID: personID, Content: item}); err != nil {
			log.Printf("summary: drop action item for %s: %v", personID, err)
		}
	}

	recap, err := s.RecapFromSummaries(ctx, personID)
	if err != nil {
		log.Printf("summary: recap for %s failed, using plain summary: %v", personID, err)
		recap = res.Text
	}
	if recap != "" {
		patch := store.FacePatch{Recap: &recap, BumpInteraction: true}
		if err := s.gateway.UpsertFace(ctx, personID, patch); err != nil {
			log.Printf("summary: recap upsert for %s: %v", personID, err)
		}
	}
	return serr
}

// RecapFromSummaries builds a fresh recap over every stored summary for the
// person, most recent first.
func (s *Summarizer) RecapFromSummaries(ctx context.Context, personID string) (string, error) {
	sums, err := s.gateway.SummariesForPerson(ctx, personID)
	if err != nil {
		return "", fmt.Errorf("load summaries: %w", err)
	}
	if len(sums) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i, rec := range sums {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec.Text)
	}
	resp, err := s.client.Complete(ctx, agent.Request{
		System:   recapSystem,
		Messages: []agent.ChatMessage{{Role: "user", Text: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("recap: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// IsErrorSummary reports whether a stored summary was produced during a model
// outage.
func IsErrorSummary(text string) bool {
	return strings.HasPrefix(text, errorSummaryPrefix)
}

func transcript(state *convo.State) string {
	var b strings.Builder
	for _, m := range state.Messages {
		speaker := state.Person.String()
		if m.Role == convo.RoleAgent {
			speaker = "mira"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Text)
	}
	return b.String()
}

// parseResult extracts the JSON result from model output, tolerating code
// fences and surrounding prose. Unparseable output becomes a plain-text
// summary.
func parseResult(text string) *Result {
	raw := extractJSON(text)
	if raw != "" {
		var res Result
		if err := json.Unmarshal([]byte(raw), &res); err == nil && res.Text != "" {
			return &res
		}
	}
	return &Result{Text: strings.TrimSpace(text)}
}

func extractJSON(text string) string {
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			text = rest[:j]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}
