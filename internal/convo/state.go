package convo

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one entry in a conversation log.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Utterance is one turn-bounded span of speech. It is a value type,
// never mutated after emission; Text is attached once transcription
// completes.
type Utterance struct {
	Person    PersonID
	Text      string
	Audio     []byte
	StartedAt time.Time
	EndedAt   time.Time
}

func (u Utterance) Duration() time.Duration { return u.EndedAt.Sub(u.StartedAt) }

// State is the in-memory state of one active conversation. It is owned by a
// Registry; the channel worker is the only mutator, so methods do not lock.
// Messages are append-only for the lifetime of a conversation id.
type State struct {
	ConversationID string
	Person         PersonID
	Messages       []Message
	CreatedAt      time.Time
	LastActivityAt time.Time

	// Summary handoff crosses goroutines (channel worker, janitor,
	// summarizer task), so it has its own lock.
	sumMu       sync.Mutex
	summarized  bool
	summaryDone chan struct{}
}

func NewState(person PersonID) *State {
	now := time.Now().UTC()
	return &State{
		ConversationID: uuid.NewString(),
		Person:         person,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (s *State) Append(role Role, text string, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	s.Messages = append(s.Messages, Message{Role: role, Text: text, Timestamp: at})
	s.LastActivityAt = at
}

func (s *State) Empty() bool { return len(s.Messages) == 0 }

// Recent returns up to limit of the newest messages in chronological order.
func (s *State) Recent(limit int) []Message {
	if limit <= 0 || limit >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-limit:]
}

// Participants lists the distinct known person ids in the conversation,
// or ["unknown"] when nobody was recognized.
func (s *State) Participants() []string {
	if s.Person.Known {
		return []string{s.Person.Value}
	}
	return []string{"unknown"}
}

func (s *State) SummaryTaken() bool {
	s.sumMu.Lock()
	defer s.sumMu.Unlock()
	return s.summarized
}

// BeginSummary marks the state as handed off for summarization. It returns
// false when the conversation is empty, a summary was already taken, or an
// attempt is in flight.
func (s *State) BeginSummary() bool {
	s.sumMu.Lock()
	defer s.sumMu.Unlock()
	if s.Empty() || s.summarized || s.summaryDone != nil {
		return false
	}
	s.summaryDone = make(chan struct{})
	return true
}

// FinishSummary records the end of a summarization attempt. ok reports
// whether a summary was actually produced.
func (s *State) FinishSummary(ok bool) {
	s.sumMu.Lock()
	defer s.sumMu.Unlock()
	s.summarized = s.summarized || ok
	if s.summaryDone != nil {
		close(s.summaryDone)
		s.summaryDone = nil
	}
}

// WaitSummary blocks until a pending summarization finishes or the timeout
// elapses. It returns true when there was nothing to wait for or the attempt
// completed in time.
func (s *State) WaitSummary(timeout time.Duration) bool {
	s.sumMu.Lock()
	done := s.summaryDone
	s.sumMu.Unlock()
	if done == nil {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
