package orchestrate

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mirelabs/mira/internal/agent"
	"github.com/mirelabs/mira/internal/convo"
	"github.com/mirelabs/mira/internal/observability"
	"github.com/mirelabs/mira/internal/protocol"
	"github.com/mirelabs/mira/internal/relay"
	"github.com/mirelabs/mira/internal/store"
	"github.com/mirelabs/mira/internal/summary"
	"github.com/mirelabs/mira/internal/transcribe"
	"github.com/mirelabs/mira/internal/turndetect"
)

// Config bundles the per-channel tunables.
type Config struct {
	Turn           turndetect.Config
	IdleTTL        time.Duration
	SummaryTimeout time.Duration
	AgentTimeout   time.Duration
}

// Orchestrator wires audio turns, conversation state, the agent and the
// summarizer together. One Orchestrator serves every channel; per-connection
// state lives in the runner created by RunChannel.
type Orchestrator struct {
	gateway     store.Gateway
	invoker     *agent.Invoker
	summarizer  *summary.Summarizer
	transcriber transcribe.Transcriber
	relay       *relay.Client
	metrics     *observability.Metrics
	cfg         Config
}

func NewOrchestrator(
	gateway store.Gateway,
	invoker *agent.Invoker,
	summarizer *summary.Summarizer,
	transcriber transcribe.Transcriber,
	relayClient *relay.Client,
	metrics *observability.Metrics,
	cfg Config,
) *Orchestrator {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Minute
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 30 * time.Second
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 20 * time.Second
	}
	if cfg.Turn.SampleRate <= 0 {
		cfg.Turn.SampleRate = turndetect.DefaultSampleRate
	}
	return &Orchestrator{
		gateway:     gateway,
		invoker:     invoker,
		summarizer:  summarizer,
		transcriber: transcriber,
		relay:       relayClient,
		metrics:     metrics,
		cfg:         cfg,
	}
}

// runner is the state of one live channel connection.
type runner struct {
	o         *Orchestrator
	channelID string
	outbound  chan<- any
	registry  *convo.Registry
	detector  *turndetect.Detector
	summaries sync.WaitGroup
}

// RunChannel consumes parsed client messages for one channel until the
// inbound channel closes or ctx is cancelled. Utterances are handled strictly
// in arrival order; only summarization leaves the loop.
func (o *Orchestrator) RunChannel(ctx context.Context, channelID string, inbound <-chan any, outbound chan<- any) error {
	r := &runner{
		o:         o,
		channelID: channelID,
		outbound:  outbound,
		registry:  convo.NewRegistry(o.cfg.IdleTTL),
		detector:  turndetect.New(o.cfg.Turn),
	}

	o.metrics.ActiveChannels.Inc()
	defer o.metrics.ActiveChannels.Dec()

	r.registry.SetEvictHook(func(state *convo.State) {
		o.metrics.ChannelEvents.WithLabelValues("conversation_idle").Inc()
		r.summarize(state)
		r.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			ChannelID: channelID,
			Code:      "conversation_idle",
		})
	})

	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	r.registry.StartJanitor(janitorCtx, janitorInterval(o.cfg.IdleTTL))

	for {
		select {
		case <-ctx.Done():
			r.finish(ctx)
			return ctx.Err()
		case raw, ok := <-inbound:
			if !ok {
				r.finish(ctx)
				return nil
			}
			switch msg := raw.(type) {
			case protocol.ClientAudioChunk:
				r.handleAudio(ctx, msg)
			case protocol.PersonSignal:
				r.handleSignal(ctx, msg)
			case protocol.ClientControl:
				if msg.Action == protocol.ActionFlush {
					r.flushTurn(ctx)
					continue
				}
				r.finish(ctx)
				return nil
			default:
				log.Printf("orchestrate: channel %s: unexpected message %T", channelID, raw)
			}
		}
	}
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func (r *runner) handleAudio(ctx context.Context, msg protocol.ClientAudioChunk) {
	if msg.SampleRate != r.o.cfg.Turn.SampleRate {
		r.o.metrics.FramesDropped.WithLabelValues("sample_rate_mismatch").Inc()
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(msg.PCM16Base64)
	if err != nil {
		r.o.metrics.FramesDropped.WithLabelValues("bad_base64").Inc()
		return
	}

	u, err := r.detector.Ingest(pcm, time.UnixMilli(msg.TSMs).UTC())
	if err != nil {
		reason := "malformed"
		if errors.Is(err, turndetect.ErrOutOfOrder) {
			reason = "out_of_order"
		}
		r.o.metrics.FramesDropped.WithLabelValues(reason).Inc()
		return
	}
	if u != nil {
		r.processUtterance(ctx, u)
	}
}

// handleSignal reacts to a face recognition change: the in-flight turn is
// flushed to the previous person, the displaced conversation goes to the
// summarizer, and the display gets a switch event with the stored recap.
func (r *runner) handleSignal(ctx context.Context, msg protocol.PersonSignal) {
	person := convo.Nobody()
	if msg.Present {
		person = convo.Person(msg.PersonID)
	}
	if person.Equal(r.detector.Person()) {
		return
	}

	r.flushTurn(ctx)

	displaced, _ := r.registry.SwitchTo(person)
	r.detector.SetPerson(person)
	r.o.metrics.ChannelEvents.WithLabelValues("person_switch").Inc()
	if displaced != nil {
		r.summarize(displaced)
	}

	if !person.Known {
		return
	}

	name := strings.TrimSpace(msg.DisplayName)
	if name != "" {
		patch := store.FacePatch{DisplayName: &name}
		if err := r.o.gateway.UpsertFace(ctx, person.Value, patch); err != nil && !errors.Is(err, store.ErrDegraded) {
			log.Printf("orchestrate: face name upsert for %s: %v", person.Value, err)
		}
	}

	var recap string
	face, ok, err := r.o.gateway.GetFace(ctx, person.Value)
	if err != nil {
		log.Printf("orchestrate: face lookup for %s: %v", person.Value, err)
	}
	if ok {
		recap = face.Recap
		if name == "" {
			name = face.DisplayName
		}
	}

	ev := protocol.SwitchInteractionPerson{
		Type:       protocol.TypeSwitchInteractionPerson,
		ChannelID:  r.channelID,
		PersonID:   person.Value,
		PersonName: name,
		Recap:      recap,
	}
	r.send(ev)
	r.o.relay.Publish(ev)
}

// flushTurn forces out any buffered audio as a completed turn.
func (r *runner) flushTurn(ctx context.Context) {
	if u := r.detector.Flush(); u != nil {
		r.processUtterance(ctx, u)
	}
}

func (r *runner) processUtterance(ctx context.Context, u *convo.Utterance) {
	r.registry.BeginTurn()
	defer r.registry.EndTurn()

	// Each external call gets its own deadline; a slow transcription must
	// not eat into the agent's budget.
	transcribeCtx, cancelTranscribe := context.WithTimeout(ctx, r.o.cfg.AgentTimeout)
	text, err := r.o.transcriber.Transcribe(transcribeCtx, u.Audio, r.o.cfg.Turn.SampleRate)
	cancelTranscribe()
	if err != nil {
		r.o.metrics.ProviderErrors.WithLabelValues("transcriber", "transcribe_failed").Inc()
		r.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			ChannelID: r.channelID,
			Code:      "transcribe_failed",
			Source:    "transcriber",
			Retryable: true,
			Detail:    err.Error(),
		})
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		// Breathing, rustling, silence misread as speech.
		r.o.metrics.FramesDropped.WithLabelValues("empty_transcript").Inc()
		return
	}

	state := r.registry.GetOrCreate(u.Person)
	r.send(protocol.UtteranceCommitted{
		Type:           protocol.TypeUtteranceCommitted,
		ChannelID:      r.channelID,
		ConversationID: state.ConversationID,
		PersonID:       u.Person.Value,
		Text:           text,
		DurationMs:     u.Duration().Milliseconds(),
		TSMs:           u.EndedAt.UnixMilli(),
	})

	agentCtx, cancelAgent := context.WithTimeout(ctx, r.o.cfg.AgentTimeout)
	defer cancelAgent()
	started := time.Now()
	reply, err := r.o.invoker.Respond(agentCtx, state, text, u.EndedAt, r.notify)
	r.o.metrics.ObserveAgentTurnLatency(time.Since(started))
	if err != nil {
		r.o.metrics.ProviderErrors.WithLabelValues("agent", "complete_failed").Inc()
		log.Printf("orchestrate: channel %s: agent turn: %v", r.channelID, err)
	}
	if reply.Spoke {
		r.send(protocol.AgentReply{
			Type:           protocol.TypeAgentReply,
			ChannelID:      r.channelID,
			ConversationID: state.ConversationID,
			Text:           reply.Text,
		})
	}
}

func (r *runner) notify(title, message string) {
	ev := protocol.Notification{
		Type:      protocol.TypeNotification,
		ChannelID: r.channelID,
		Title:     title,
		Message:   message,
	}
	r.send(ev)
	r.o.relay.Publish(ev)
}

// summarize hands the conversation to the summarizer on its own goroutine.
// The background context keeps a summary alive through channel teardown;
// finish bounds the wait.
func (r *runner) summarize(state *convo.State) {
	if !state.BeginSummary() {
		return
	}
	r.summaries.Add(1)
	go func() {
		defer r.summaries.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.o.cfg.SummaryTimeout)
		defer cancel()

		started := time.Now()
		err := r.o.summarizer.SummarizeAndSave(ctx, state)
		r.o.metrics.ObserveSummarizeLatency(time.Since(started))
		if err != nil {
			r.o.metrics.ProviderErrors.WithLabelValues("summarizer", "summarize_failed").Inc()
			log.Printf("orchestrate: channel %s: summarize %s: %v", r.channelID, state.ConversationID, err)
		}
		state.FinishSummary(err == nil)
		r.o.metrics.ChannelEvents.WithLabelValues("summary_done").Inc()
	}()
}

// finish flushes the in-flight turn, summarizes the active conversation and
// waits (bounded) for pending summaries before the channel goes away.
func (r *runner) finish(ctx context.Context) {
	if ctx.Err() == nil {
		r.flushTurn(ctx)
	}
	if ended := r.registry.EndActive(); ended != nil {
		r.summarize(ended)
	}

	done := make(chan struct{})
	go func() {
		r.summaries.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.o.cfg.SummaryTimeout + time.Second):
		log.Printf("orchestrate: channel %s: gave up waiting for pending summaries", r.channelID)
	}
	r.o.metrics.ChannelEvents.WithLabelValues("channel_closed").Inc()
}

// send delivers an event to the websocket writer without ever blocking the
// orchestration loop.
func (r *runner) send(msg any) {
	select {
	case r.outbound <- msg:
	default:
		log.Printf("orchestrate: channel %s: outbound full, dropping %T", r.channelID, msg)
	}
}
