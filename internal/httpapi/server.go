package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mirelabs/mira/internal/config"
	"github.com/mirelabs/mira/internal/observability"
	"github.com/mirelabs/mira/internal/protocol"
	"github.com/mirelabs/mira/internal/store"
)

// Orchestrator runs the conversation loop for one channel connection.
type Orchestrator interface {
	RunChannel(ctx context.Context, channelID string, inbound <-chan any, outbound chan<- any) error
}

type channelState struct {
	ID        string    `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
	Connected bool      `json:"connected"`

	cancel context.CancelFunc
}

type Server struct {
	cfg          config.Config
	gateway      store.Gateway
	orchestrator Orchestrator
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader

	mu       sync.Mutex
	channels map[string]*channelState
}

func New(cfg config.Config, gateway store.Gateway, orchestrator Orchestrator, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		gateway:      gateway,
		orchestrator: orchestrator,
		metrics:      metrics,
		channels:     make(map[string]*channelState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; the glasses client is
				// not a browser and omits Origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/channels", s.handleCreateChannel)
	r.Post("/v1/channels/{id}/end", s.handleEndChannel)
	r.Get("/v1/channels/ws", s.handleChannelWS)

	r.Get("/v1/people/{id}/summaries", s.handlePersonSummaries)
	r.Get("/v1/people/{id}/summaries/latest", s.handlePersonLatestSummary)
	r.Get("/v1/people/{id}/memories", s.handlePersonMemories)
	r.Get("/v1/people/{id}/todos", s.handlePersonTodos)
	r.Get("/v1/people/{id}/face", s.handlePersonFace)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"store_degraded": s.gateway.Degraded(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"store_degraded": s.gateway.Degraded(),
	})
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, _ *http.Request) {
	ch := &channelState{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.channels[ch.ID] = ch
	s.mu.Unlock()

	s.metrics.ChannelEvents.WithLabelValues("created").Inc()
	respondJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleEndChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	ch, ok := s.channels[id]
	if ok {
		delete(s.channels, id)
	}
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "channel_not_found", "no such channel")
		return
	}
	if ch.cancel != nil {
		ch.cancel()
	}
	s.metrics.ChannelEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, ch)
}

func (s *Server) handleChannelWS(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.URL.Query().Get("channel_id"))
	if channelID == "" {
		respondError(w, http.StatusBadRequest, "missing_channel_id", "query parameter channel_id is required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.mu.Lock()
	ch, ok := s.channels[channelID]
	busy := ok && ch.Connected
	if ok && !busy {
		ch.Connected = true
		ch.cancel = cancel
	}
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "channel_not_found", "create the channel first")
		return
	}
	if busy {
		respondError(w, http.StatusConflict, "channel_busy", "channel already has a connection")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	defer s.disconnect(channelID)

	s.metrics.ChannelEvents.WithLabelValues("ws_connected").Inc()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.orchestrator.RunChannel(ctx, channelID, inbound, outbound)
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				ChannelID: channelID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop when the
				// outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	s.metrics.ChannelEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) disconnect(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[channelID]; ok {
		ch.Connected = false
		ch.cancel = nil
	}
}

func (s *Server) handlePersonSummaries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sums, err := s.gateway.SummariesForPerson(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if sums == nil {
		sums = []store.SummaryRecord{}
	}
	respondJSON(w, http.StatusOK, sums)
}

func (s *Server) handlePersonLatestSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok, err := s.gateway.LatestSummary(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "summary_not_found", "no summaries for this person")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePersonMemories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	mems, err := s.gateway.MemoriesForPerson(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if mems == nil {
		mems = []store.MemoryRecord{}
	}
	respondJSON(w, http.StatusOK, mems)
}

func (s *Server) handlePersonTodos(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	openOnly := r.URL.Query().Get("open") == "true"
	todos, err := s.gateway.TodosForPerson(r.Context(), id, openOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if todos == nil {
		todos = []store.TodoRecord{}
	}
	respondJSON(w, http.StatusOK, todos)
}

func (s *Server) handlePersonFace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok, err := s.gateway.GetFace(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "face_not_found", "no face record for this person")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.PersonSignal:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.UtteranceCommitted:
		return m.Type, true
	case protocol.AgentReply:
		return m.Type, true
	case protocol.SwitchInteractionPerson:
		return m.Type, true
	case protocol.Notification:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
