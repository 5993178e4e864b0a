package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mirelabs/mira/internal/convo"
	"github.com/mirelabs/mira/internal/store"
)

// scriptedClient plays back a fixed sequence of responses and records every
// request it saw.
type scriptedClient struct {
	responses []Response
	err       error
	requests  []Request
}

func (c *scriptedClient) Complete(_ context.Context, req Request) (Response, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return Response{}, c.err
	}
	idx := len(c.requests) - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return c.responses[idx], nil
}

func toolCall(name, args string) ToolCall {
	return ToolCall{ID: "call-1", Name: name, Args: json.RawMessage(args)}
}

func TestInvokerToolLoopThenReply(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{toolCall(ToolAddMemory, `{"content":"prefers tea"}`)}},
		{Text: "Noted, she prefers tea."},
	}}
	gw := store.NewInMemoryGateway()
	inv := NewInvoker(client, gw, 4, 12)
	state := convo.NewState(convo.Person("alice"))

	reply, err := inv.Respond(context.Background(), state, "she said she prefers tea", time.Now(), nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !reply.Spoke || reply.Text != "Noted, she prefers tea." {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	mems, _ := gw.MemoriesForPerson(context.Background(), "alice")
	if len(mems) != 1 || mems[0].Content != "prefers tea" {
		t.Fatalf("memory not stored via tool: %+v", mems)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("messages = %d, want user + agent", len(state.Messages))
	}
	if state.Messages[1].Role != convo.RoleAgent {
		t.Fatalf("second message role = %q, want agent", state.Messages[1].Role)
	}
}

func TestInvokerToolOnlyTurnStaysSilent(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{toolCall(ToolAddTodo, `{"content":"send the deck"}`)}},
		{Text: ""},
	}}
	gw := store.NewInMemoryGateway()
	inv := NewInvoker(client, gw, 4, 12)
	state := convo.NewState(convo.Person("alice"))

	reply, err := inv.Respond(context.Background(), state, "remind me to send the deck", time.Now(), nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Spoke {
		t.Fatalf("tool-only turn should not speak, got %+v", reply)
	}
	if len(state.Messages) != 1 || state.Messages[0].Role != convo.RoleUser {
		t.Fatalf("tool-only turn must keep only the user message, got %+v", state.Messages)
	}

	todos, _ := gw.TodosForPerson(context.Background(), "alice", true)
	if len(todos) != 1 {
		t.Fatalf("todo not stored via tool: %+v", todos)
	}
}

func TestInvokerNoSpeechSentinel(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{toolCall(ToolAddTodo, `{"content":"call mom"}`)}},
		{Text: noSpeechSentinel},
	}}
	inv := NewInvoker(client, store.NewInMemoryGateway(), 4, 12)
	state := convo.NewState(convo.Person("alice"))

	reply, err := inv.Respond(context.Background(), state, "remind me to call mom", time.Now(), nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Spoke {
		t.Fatalf("sentinel reply should stay silent, got %+v", reply)
	}
}

func TestInvokerToolIterationCap(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{toolCall(ToolListTodos, `{}`)}},
	}}
	inv := NewInvoker(client, store.NewInMemoryGateway(), 3, 12)
	state := convo.NewState(convo.Person("alice"))

	reply, err := inv.Respond(context.Background(), state, "what's on my list", time.Now(), nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !reply.Spoke || reply.Text != fallbackReply {
		t.Fatalf("capped turn reply = %+v, want fallback", reply)
	}
	if len(client.requests) != 3 {
		t.Fatalf("completions = %d, want exactly the cap of 3", len(client.requests))
	}
}

func TestInvokerUnknownToolIsRecoverable(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{toolCall("launch_rocket", `{}`)}},
		{Text: "I can't do that."},
	}}
	inv := NewInvoker(client, store.NewInMemoryGateway(), 4, 12)
	state := convo.NewState(convo.Person("alice"))

	reply, err := inv.Respond(context.Background(), state, "launch it", time.Now(), nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !reply.Spoke {
		t.Fatalf("expected a spoken recovery reply")
	}

	last := client.requests[len(client.requests)-1]
	found := false
	for _, m := range last.Messages {
		if m.Role == "tool" && strings.Contains(m.Text, "unknown tool") {
			found = true
		}
	}
	if !found {
		t.Fatalf("unknown-tool error was not fed back to the model: %+v", last.Messages)
	}
}

func TestInvokerBackendFailureKeepsUserMessage(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	inv := NewInvoker(client, store.NewInMemoryGateway(), 4, 12)
	state := convo.NewState(convo.Person("alice"))

	reply, err := inv.Respond(context.Background(), state, "hello", time.Now(), nil)
	if err == nil {
		t.Fatalf("expected the backend error to be reported")
	}
	if !reply.Spoke || reply.Text != degradedReply {
		t.Fatalf("failure reply = %+v, want apology", reply)
	}
	if len(state.Messages) != 2 || state.Messages[0].Role != convo.RoleUser {
		t.Fatalf("user message must survive the failure: %+v", state.Messages)
	}
}

func TestInvokerDegradedGatewaySkipsFactsButCompletes(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{toolCall(ToolAddMemory, `{"content":"likes jazz"}`)}},
		{Text: "Got it."},
	}}
	inv := NewInvoker(client, store.NewDegradedGateway(), 4, 12)
	state := convo.NewState(convo.Person("alice"))

	reply, err := inv.Respond(context.Background(), state, "she likes jazz", time.Now(), nil)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !reply.Spoke {
		t.Fatalf("turn should complete in degraded mode")
	}

	for _, m := range client.requests[0].Messages {
		if m.Role == "system" {
			t.Fatalf("degraded mode must not fetch durable facts, got %q", m.Text)
		}
	}
	last := client.requests[1]
	found := false
	for _, m := range last.Messages {
		if m.Role == "tool" && strings.Contains(m.Text, "storage unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("degraded tool result missing: %+v", last.Messages)
	}
}

func TestInvokerNotificationTool(t *testing.T) {
	client := &scriptedClient{responses: []Response{
		{ToolCalls: []ToolCall{toolCall(ToolSendNotification, `{"title":"Reminder","message":"Meeting at 3"}`)}},
		{Text: ""},
	}}
	inv := NewInvoker(client, store.NewInMemoryGateway(), 4, 12)
	state := convo.NewState(convo.Person("alice"))

	var gotTitle, gotMsg string
	notify := func(title, message string) { gotTitle, gotMsg = title, message }

	reply, err := inv.Respond(context.Background(), state, "remind me about the meeting", time.Now(), notify)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply.Spoke {
		t.Fatalf("notification-only turn should stay silent")
	}
	if gotTitle != "Reminder" || gotMsg != "Meeting at 3" {
		t.Fatalf("notification not delivered: %q %q", gotTitle, gotMsg)
	}
}
