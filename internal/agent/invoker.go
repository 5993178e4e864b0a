package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mirelabs/mira/internal/convo"
	"github.com/mirelabs/mira/internal/store"
)

const systemPrompt = `You are Mira, a quiet companion speaking into the ear of someone wearing smart glasses. You hear what the person in front of them says. Reply briefly and conversationally, as a whisper of advice or context. Use tools to remember facts, track todos, or push display notifications. If a tool call covers everything and nothing needs to be said aloud, reply with no text.`

// noSpeechSentinel lets backends say "tools only, nothing aloud" explicitly.
const noSpeechSentinel = "[NO FURTHER RESPONSE]"

const (
	fallbackReply = "Sorry, I lost my train of thought. Could you say that again?"
	degradedReply = "Sorry, I'm having trouble thinking right now."
)

// Reply is the outcome of one agent turn. Spoke is false for tool-only turns,
// which produce no stored agent message.
type Reply struct {
	Text  string
	Spoke bool
}

// Invoker runs the agent turn loop: prompt assembly, completion, tool
// execution, reply capture.
type Invoker struct {
	client       Client
	gateway      store.Gateway
	maxToolIters int
	recentLimit  int
}

func NewInvoker(client Client, gateway store.Gateway, maxToolIters, recentLimit int) *Invoker {
	if maxToolIters <= 0 {
		maxToolIters = 4
	}
	if recentLimit <= 0 {
		recentLimit = 12
	}
	return &Invoker{
		client:       client,
		gateway:      gateway,
		maxToolIters: maxToolIters,
		recentLimit:  recentLimit,
	}
}

// Respond appends the user utterance to the conversation and runs the agent
// turn. The user message is kept even when the backend fails; in that case
// the returned reply is an apology and the error is reported for logging.
func (v *Invoker) Respond(ctx context.Context, state *convo.State, text string, at time.Time, notify NotifyFunc) (Reply, error) {
	state.Append(convo.RoleUser, text, at)

	req := Request{System: systemPrompt, Tools: ToolDefs()}
	if facts := v.durableFacts(ctx, state.Person); facts != "" {
		req.Messages = append(req.Messages, ChatMessage{Role: "system", Text: facts})
	}
	for _, m := range state.Recent(v.recentLimit) {
		role := "user"
		if m.Role == convo.RoleAgent {
			role = "assistant"
		}
		req.Messages = append(req.Messages, ChatMessage{Role: role, Text: m.Text})
	}

	exec := &toolExecutor{gateway: v.gateway, notify: notify, person: state.Person}
	toolsRan := false

	for iter := 0; iter < v.maxToolIters; iter++ {
		resp, err := v.client.Complete(ctx, req)
		if err != nil {
			state.Append(convo.RoleAgent, degradedReply, time.Now().UTC())
			return Reply{Text: degradedReply, Spoke: true}, fmt.Errorf("agent complete: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			reply := strings.TrimSpace(resp.Text)
			if reply == noSpeechSentinel {
				reply = ""
			}
			if reply == "" {
				if toolsRan {
					return Reply{}, nil
				}
				reply = fallbackReply
			}
			state.Append(convo.RoleAgent, reply, time.Now().UTC())
			return Reply{Text: reply, Spoke: true}, nil
		}

		toolsRan = true
		if t := strings.TrimSpace(resp.Text); t != "" && t != noSpeechSentinel {
			req.Messages = append(req.Messages, ChatMessage{Role: "assistant", Text: t})
		}
		for _, call := range resp.ToolCalls {
			result := exec.execute(ctx, call)
			req.Messages = append(req.Messages, ChatMessage{Role: "tool", Text: fmt.Sprintf("%s -> %s", call.Name, result)})
		}
	}

	// Tool iteration cap hit.
	state.Append(convo.RoleAgent, fallbackReply, time.Now().UTC())
	return Reply{Text: fallbackReply, Spoke: true}, nil
}

// durableFacts builds the stored-knowledge prompt block for a known person.
// Skipped entirely in degraded mode.
func (v *Invoker) durableFacts(ctx context.Context, person convo.PersonID) string {
	if v.gateway.Degraded() || !person.Known {
		return ""
	}

	var b strings.Builder
	if mems, err := v.gateway.MemoriesForPerson(ctx, person.Value); err == nil && len(mems) > 0 {
		b.WriteString("Known facts about this person:\n")
		for _, m := range mems {
			fmt.Fprintf(&b, "- %s\n", m.Content)
		}
	}
	if todos, err := v.gateway.TodosForPerson(ctx, person.Value, true); err == nil && len(todos) > 0 {
		b.WriteString("Open todos:\n")
		for _, td := range todos {
			fmt.Fprintf(&b, "- [%s] %s\n", td.ID, td.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
