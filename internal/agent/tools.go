package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mirelabs/mira/internal/convo"
	"github.com/mirelabs/mira/internal/store"
)

// Tool names offered to the model.
const (
	ToolAddMemory        = "add_memory"
	ToolAddTodo          = "add_todo"
	ToolCompleteTodo     = "complete_todo"
	ToolListTodos        = "list_todos"
	ToolSendNotification = "send_notification"
)

// NotifyFunc pushes a notification toward the display.
type NotifyFunc func(title, message string)

// ToolDefs lists the tools every agent request carries.
func ToolDefs() []ToolDef {
	return []ToolDef{
		{
			Name:        ToolAddMemory,
			Description: "Save a durable fact about the person you are talking to.",
			Schema:      json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`),
		},
		{
			Name:        ToolAddTodo,
			Description: "Add an action item for the wearer.",
			Schema:      json.RawMessage(`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`),
		},
		{
			Name:        ToolCompleteTodo,
			Description: "Mark an action item as done by id.",
			Schema:      json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
		},
		{
			Name:        ToolListTodos,
			Description: "List the wearer's open action items.",
			Schema:      json.RawMessage(`{"type":"object","properties":{}}`),
		},
		{
			Name:        ToolSendNotification,
			Description: "Show a short notification on the wearer's display.",
			Schema:      json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"message":{"type":"string"}},"required":["message"]}`),
		},
	}
}

// toolExecutor runs model-requested tool calls against the gateway and the
// display notifier. Results are plain strings fed back to the model; failures
// are reported as "error: ..." results, never as Go errors, so a bad call
// stays recoverable within the turn.
type toolExecutor struct {
	gateway store.Gateway
	notify  NotifyFunc
	person  convo.PersonID
}

func (e *toolExecutor) execute(ctx context.Context, call ToolCall) string {
	switch call.Name {
	case ToolAddMemory:
		return e.addMemory(ctx, call.Args)
	case ToolAddTodo:
		return e.addTodo(ctx, call.Args)
	case ToolCompleteTodo:
		return e.completeTodo(ctx, call.Args)
	case ToolListTodos:
		return e.listTodos(ctx)
	case ToolSendNotification:
		return e.sendNotification(call.Args)
	default:
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
}

func (e *toolExecutor) addMemory(ctx context.Context, args json.RawMessage) string {
	var in struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil || strings.TrimSpace(in.Content) == "" {
		return "error: add_memory needs a content string"
	}
	if !e.person.Known {
		return "error: no recognized person to attach this memory to"
	}
	err := e.gateway.AddMemory(ctx, store.MemoryRecord{PersonID: e.person.Value, Content: in.Content})
	if errors.Is(err, store.ErrDegraded) {
		return "error: storage unavailable right now"
	}
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return "memory saved"
}

func (e *toolExecutor) addTodo(ctx context.Context, args json.RawMessage) string {
	var in struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil || strings.TrimSpace(in.Content) == "" {
		return "error: add_todo needs a content string"
	}
	err := e.gateway.AddTodo(ctx, store.TodoRecord{PersonID: e.person.Value, Content: in.Content})
	if errors.Is(err, store.ErrDegraded) {
		return "error: storage unavailable right now"
	}
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return "todo added"
}

func (e *toolExecutor) completeTodo(ctx context.Context, args json.RawMessage) string {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil || strings.TrimSpace(in.ID) == "" {
		return "error: complete_todo needs a todo id"
	}
	err := e.gateway.CompleteTodo(ctx, in.ID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("error: no todo with id %q", in.ID)
	}
	if errors.Is(err, store.ErrDegraded) {
		return "error: storage unavailable right now"
	}
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return "todo completed"
}

func (e *toolExecutor) listTodos(ctx context.Context) string {
	todos, err := e.gateway.TodosForPerson(ctx, e.person.Value, true)
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	if len(todos) == 0 {
		return "no open todos"
	}
	var b strings.Builder
	for _, td := range todos {
		fmt.Fprintf(&b, "- [%s] %s\n", td.ID, td.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *toolExecutor) sendNotification(args json.RawMessage) string {
	var in struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(args, &in); err != nil || strings.TrimSpace(in.Message) == "" {
		return "error: send_notification needs a message"
	}
	if e.notify == nil {
		return "error: no display connected"
	}
	e.notify(in.Title, in.Message)
	return "notification sent"
}
