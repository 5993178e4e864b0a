package orchestrate

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mirelabs/mira/internal/agent"
	"github.com/mirelabs/mira/internal/observability"
	"github.com/mirelabs/mira/internal/protocol"
	"github.com/mirelabs/mira/internal/relay"
	"github.com/mirelabs/mira/internal/store"
	"github.com/mirelabs/mira/internal/summary"
	"github.com/mirelabs/mira/internal/transcribe"
	"github.com/mirelabs/mira/internal/turndetect"
)

// textClient always replies with the same text.
type textClient struct {
	text string
}

func (c *textClient) Complete(_ context.Context, _ agent.Request) (agent.Response, error) {
	return agent.Response{Text: c.text}, nil
}

// fixedTranscriber returns the same transcript for every utterance.
type fixedTranscriber struct {
	text string
}

func (t *fixedTranscriber) Transcribe(context.Context, []byte, int) (string, error) {
	return t.text, nil
}

func testOrchestrator(gw store.Gateway, tr transcribe.Transcriber) *Orchestrator {
	metrics := observability.NewMetrics(fmt.Sprintf("mira_test_%d", time.Now().UnixNano()))
	invoker := agent.NewInvoker(&textClient{text: "noted"}, gw, 4, 12)
	summarizer := summary.NewSummarizer(
		&textClient{text: `{"participants":["x"],"key_topics":[],"action_items":[],"summary":"They talked."}`},
		gw,
	)
	return NewOrchestrator(gw, invoker, summarizer, tr, relay.New("", 0), metrics, Config{
		Turn: turndetect.Config{
			SilenceThreshold: 50 * time.Millisecond,
			MinUtterance:     10 * time.Millisecond,
			MaxBuffered:      2 * time.Second,
			ActivationLevel:  500,
			SampleRate:       16000,
		},
		IdleTTL:        time.Minute,
		SummaryTimeout: 2 * time.Second,
		AgentTimeout:   2 * time.Second,
	})
}

// channelScript feeds messages and collects everything the channel emits.
type channelScript struct {
	inbound  chan any
	outbound chan any
	done     chan error
	tsMs     int64
}

func startChannel(o *Orchestrator, channelID string) *channelScript {
	s := &channelScript{
		inbound:  make(chan any, 128),
		outbound: make(chan any, 128),
		done:     make(chan error, 1),
		tsMs:     1_700_000_000_000,
	}
	go func() {
		s.done <- o.RunChannel(context.Background(), channelID, s.inbound, s.outbound)
	}()
	return s
}

func (s *channelScript) audioFrame(level int16) {
	s.audioFrameAt(level, 16000)
}

func (s *channelScript) audioFrameAt(level int16, rate int) {
	frame := make([]byte, 320) // 10ms at 16kHz
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(frame[2*i:], uint16(level))
	}
	s.inbound <- protocol.ClientAudioChunk{
		Type:        protocol.TypeClientAudioChunk,
		ChannelID:   "c1",
		PCM16Base64: base64.StdEncoding.EncodeToString(frame),
		SampleRate:  rate,
		TSMs:        s.tsMs,
	}
	s.tsMs += 10
}

// speakTurn sends a burst of speech followed by enough silence to close it.
func (s *channelScript) speakTurn() {
	for i := 0; i < 5; i++ {
		s.audioFrame(2000)
	}
	for i := 0; i < 10; i++ {
		s.audioFrame(0)
	}
}

func (s *channelScript) signal(personID, displayName string) {
	s.inbound <- protocol.PersonSignal{
		Type:        protocol.TypePersonSignal,
		ChannelID:   "c1",
		PersonID:    personID,
		Present:     personID != "",
		DisplayName: displayName,
		TSMs:        s.tsMs,
	}
}

func (s *channelScript) close(t *testing.T) []any {
	t.Helper()
	close(s.inbound)
	select {
	case err := <-s.done:
		if err != nil {
			t.Fatalf("RunChannel() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("RunChannel() did not return")
	}

	var events []any
	for {
		select {
		case ev := <-s.outbound:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestPersonSwitchMintsFreshConversationAndSummarizes(t *testing.T) {
	gw := store.NewInMemoryGateway()
	o := testOrchestrator(gw, &fixedTranscriber{text: "hello there"})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	s.speakTurn()
	s.signal("bob", "Bob")
	s.signal("alice", "Alice")
	s.speakTurn()
	events := s.close(t)

	var committed []protocol.UtteranceCommitted
	var switches []protocol.SwitchInteractionPerson
	for _, ev := range events {
		switch m := ev.(type) {
		case protocol.UtteranceCommitted:
			committed = append(committed, m)
		case protocol.SwitchInteractionPerson:
			switches = append(switches, m)
		}
	}

	if len(committed) != 2 {
		t.Fatalf("committed utterances = %d, want 2", len(committed))
	}
	if committed[0].ConversationID == committed[1].ConversationID {
		t.Fatalf("returning person reused conversation id %q", committed[0].ConversationID)
	}
	if len(switches) != 3 {
		t.Fatalf("switch events = %d, want alice, bob, alice", len(switches))
	}

	ctx := context.Background()
	sums, err := gw.SummariesForPerson(ctx, "alice")
	if err != nil {
		t.Fatalf("SummariesForPerson() error = %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("alice summaries = %d, want one per conversation", len(sums))
	}
	perConv := map[string]int{}
	for _, rec := range sums {
		perConv[rec.ConversationID]++
	}
	for conv, n := range perConv {
		if n != 1 {
			t.Fatalf("conversation %s summarized %d times", conv, n)
		}
	}

	bobSums, _ := gw.SummariesForPerson(ctx, "bob")
	if len(bobSums) != 0 {
		t.Fatalf("bob never spoke, summaries = %d", len(bobSums))
	}
}

func TestAgentRepliesFlowToClient(t *testing.T) {
	gw := store.NewInMemoryGateway()
	o := testOrchestrator(gw, &fixedTranscriber{text: "how are you"})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	s.speakTurn()
	events := s.close(t)

	var replies []protocol.AgentReply
	for _, ev := range events {
		if m, ok := ev.(protocol.AgentReply); ok {
			replies = append(replies, m)
		}
	}
	if len(replies) != 1 || replies[0].Text != "noted" {
		t.Fatalf("agent replies = %+v, want one 'noted'", replies)
	}
}

func TestDegradedGatewayStillServesTurns(t *testing.T) {
	gw := store.NewDegradedGateway()
	o := testOrchestrator(gw, &fixedTranscriber{text: "hello"})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	s.speakTurn()
	events := s.close(t)

	gotReply := false
	for _, ev := range events {
		if _, ok := ev.(protocol.AgentReply); ok {
			gotReply = true
		}
		if m, ok := ev.(protocol.ErrorEvent); ok {
			t.Fatalf("unexpected error event in degraded mode: %+v", m)
		}
	}
	if !gotReply {
		t.Fatalf("degraded mode should still produce an agent reply")
	}
}

func TestEmptyTranscriptIsDropped(t *testing.T) {
	gw := store.NewInMemoryGateway()
	o := testOrchestrator(gw, &fixedTranscriber{text: "   "})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	s.speakTurn()
	events := s.close(t)

	for _, ev := range events {
		switch ev.(type) {
		case protocol.UtteranceCommitted, protocol.AgentReply:
			t.Fatalf("empty transcript should produce no turn, got %T", ev)
		}
	}

	sums, _ := gw.SummariesForPerson(context.Background(), "alice")
	if len(sums) != 0 {
		t.Fatalf("empty conversation must not be summarized, got %d", len(sums))
	}
}

// slowTurnClient answers after a fixed delay, for turns that outlive the
// idle TTL.
type slowTurnClient struct {
	delay time.Duration
	text  string
}

func (c *slowTurnClient) Complete(ctx context.Context, _ agent.Request) (agent.Response, error) {
	select {
	case <-time.After(c.delay):
	case <-ctx.Done():
		return agent.Response{}, ctx.Err()
	}
	return agent.Response{Text: c.text}, nil
}

// promptRecorder keeps the user prompt of every completion it serves.
type promptRecorder struct {
	mu      sync.Mutex
	prompts []string
	reply   string
}

func (c *promptRecorder) Complete(_ context.Context, req agent.Request) (agent.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(req.Messages) > 0 {
		c.prompts = append(c.prompts, req.Messages[len(req.Messages)-1].Text)
	}
	return agent.Response{Text: c.reply}, nil
}

func TestIdleEvictionWaitsForInFlightTurn(t *testing.T) {
	gw := store.NewInMemoryGateway()
	metrics := observability.NewMetrics(fmt.Sprintf("mira_test_%d", time.Now().UnixNano()))
	invoker := agent.NewInvoker(&slowTurnClient{delay: 1500 * time.Millisecond, text: "late reply"}, gw, 4, 12)
	recorder := &promptRecorder{reply: `{"participants":["alice"],"key_topics":[],"action_items":[],"summary":"They talked."}`}
	o := NewOrchestrator(gw, invoker, summary.NewSummarizer(recorder, gw), &fixedTranscriber{text: "hello there"}, relay.New("", 0), metrics, Config{
		Turn: turndetect.Config{
			SilenceThreshold: 50 * time.Millisecond,
			MinUtterance:     10 * time.Millisecond,
			MaxBuffered:      2 * time.Second,
			ActivationLevel:  500,
			SampleRate:       16000,
		},
		IdleTTL:        50 * time.Millisecond,
		SummaryTimeout: 2 * time.Second,
		AgentTimeout:   5 * time.Second,
	})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	s.speakTurn()
	// The janitor fires while the agent call is still running; the idle
	// pass must leave the mid-turn conversation alone and evict it on a
	// later tick, with the agent reply already appended.
	time.Sleep(2500 * time.Millisecond)
	s.close(t)

	sums, err := gw.SummariesForPerson(context.Background(), "alice")
	if err != nil {
		t.Fatalf("SummariesForPerson() error = %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("summaries = %d, want exactly 1", len(sums))
	}

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if len(recorder.prompts) == 0 {
		t.Fatalf("no summary prompt was issued")
	}
	transcript := recorder.prompts[0]
	if !strings.Contains(transcript, "hello there") || !strings.Contains(transcript, "late reply") {
		t.Fatalf("summary transcript lost part of the turn: %q", transcript)
	}
}

// deadlineClient records how much context budget remains when it is called.
type deadlineClient struct {
	text      string
	remaining time.Duration
}

func (c *deadlineClient) Complete(ctx context.Context, _ agent.Request) (agent.Response, error) {
	if d, ok := ctx.Deadline(); ok {
		c.remaining = time.Until(d)
	}
	return agent.Response{Text: c.text}, nil
}

// slowTranscriber burns time before answering.
type slowTranscriber struct {
	delay time.Duration
	text  string
}

func (t *slowTranscriber) Transcribe(context.Context, []byte, int) (string, error) {
	time.Sleep(t.delay)
	return t.text, nil
}

func TestSlowTranscriptionKeepsAgentBudget(t *testing.T) {
	gw := store.NewInMemoryGateway()
	metrics := observability.NewMetrics(fmt.Sprintf("mira_test_%d", time.Now().UnixNano()))
	client := &deadlineClient{text: "noted"}
	invoker := agent.NewInvoker(client, gw, 4, 12)
	summarizer := summary.NewSummarizer(&textClient{text: "ok"}, gw)
	o := NewOrchestrator(gw, invoker, summarizer, &slowTranscriber{delay: 300 * time.Millisecond, text: "hello"}, relay.New("", 0), metrics, Config{
		Turn: turndetect.Config{
			SilenceThreshold: 50 * time.Millisecond,
			MinUtterance:     10 * time.Millisecond,
			MaxBuffered:      2 * time.Second,
			ActivationLevel:  500,
			SampleRate:       16000,
		},
		IdleTTL:        time.Minute,
		SummaryTimeout: 2 * time.Second,
		AgentTimeout:   2 * time.Second,
	})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	s.speakTurn()
	s.close(t)

	if client.remaining < 1900*time.Millisecond {
		t.Fatalf("agent budget = %v, transcription ate into it", client.remaining)
	}
}

func TestMismatchedSampleRateChunksDropped(t *testing.T) {
	gw := store.NewInMemoryGateway()
	o := testOrchestrator(gw, &fixedTranscriber{text: "hello"})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	for i := 0; i < 5; i++ {
		s.audioFrameAt(2000, 8000)
	}
	for i := 0; i < 10; i++ {
		s.audioFrameAt(0, 8000)
	}
	events := s.close(t)

	for _, ev := range events {
		if _, ok := ev.(protocol.UtteranceCommitted); ok {
			t.Fatalf("a chunk with the wrong sample rate produced a turn")
		}
	}
}

func TestClientControlEndClosesChannel(t *testing.T) {
	gw := store.NewInMemoryGateway()
	o := testOrchestrator(gw, &fixedTranscriber{text: "bye now"})
	s := startChannel(o, "c1")

	s.signal("alice", "Alice")
	for i := 0; i < 5; i++ {
		s.audioFrame(2000)
	}
	s.inbound <- protocol.ClientControl{Type: protocol.TypeClientControl, ChannelID: "c1", Action: protocol.ActionEnd}

	select {
	case err := <-s.done:
		if err != nil {
			t.Fatalf("RunChannel() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("end control did not close the channel")
	}

	// The buffered speech was flushed into a final turn and summarized.
	sums, _ := gw.SummariesForPerson(context.Background(), "alice")
	if len(sums) != 1 {
		t.Fatalf("final summaries = %d, want 1", len(sums))
	}
}
