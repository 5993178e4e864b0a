package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mirelabs/mira/internal/agent"
	"github.com/mirelabs/mira/internal/config"
	"github.com/mirelabs/mira/internal/httpapi"
	"github.com/mirelabs/mira/internal/observability"
	"github.com/mirelabs/mira/internal/orchestrate"
	"github.com/mirelabs/mira/internal/relay"
	"github.com/mirelabs/mira/internal/store"
	"github.com/mirelabs/mira/internal/summary"
	"github.com/mirelabs/mira/internal/transcribe"
	"github.com/mirelabs/mira/internal/turndetect"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	gateway := store.NewGateway(ctx, cfg.DatabaseURL)
	defer gateway.Close()

	client, err := agent.NewClient(agent.Config{
		Mode:    cfg.AgentMode,
		HTTPURL: cfg.AgentHTTPURL,
		Model:   cfg.AgentModelID,
		Timeout: cfg.AgentTimeout,
	})
	if err != nil {
		log.Fatalf("agent client init failed: %v", err)
	}

	transcriber, err := transcribe.NewTranscriber(transcribe.Config{
		Mode:    cfg.TranscriberMode,
		HTTPURL: cfg.TranscriberHTTPURL,
	})
	if err != nil {
		log.Fatalf("transcriber init failed: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	relayClient := relay.New(cfg.RelayURL, cfg.RelayRetryInterval)
	if relayClient.Enabled() {
		go relayClient.Run(runCtx)
		log.Printf("display relay: %s", cfg.RelayURL)
	} else {
		log.Printf("display relay: disabled")
	}

	invoker := agent.NewInvoker(client, gateway, cfg.AgentMaxToolIters, cfg.PromptRecentLimit)
	summarizer := summary.NewSummarizer(client, gateway)

	orchestrator := orchestrate.NewOrchestrator(
		gateway,
		invoker,
		summarizer,
		transcriber,
		relayClient,
		metrics,
		orchestrate.Config{
			Turn: turndetect.Config{
				SilenceThreshold: cfg.TurnSilenceThreshold,
				MinUtterance:     cfg.TurnMinUtterance,
				MaxBuffered:      cfg.TurnMaxBuffered,
				ActivationLevel:  cfg.TurnActivationLevel,
				SampleRate:       cfg.AudioSampleRate,
			},
			IdleTTL:        cfg.ConversationIdleTTL,
			SummaryTimeout: cfg.SummaryTimeout,
			AgentTimeout:   cfg.AgentTimeout,
		},
	)

	api := httpapi.New(cfg, gateway, orchestrator, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
