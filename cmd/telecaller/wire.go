package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/telecaller/internal/archive"
	"github.com/hubenschmidt/telecaller/internal/conversation"
	"github.com/hubenschmidt/telecaller/internal/pipeline"
	"github.com/hubenschmidt/telecaller/internal/playback"
	"github.com/hubenschmidt/telecaller/internal/prompts"
	"github.com/hubenschmidt/telecaller/internal/session"
)

// app holds the components shared by every front-end.
type app struct {
	store   *session.Store
	player  *playback.Player
	coord   *conversation.Coordinator
	archive *archive.Writer
	llm     *pipeline.LLMRouter
	sweeper *session.Sweeper
}

func (c config) retryPolicy() pipeline.RetryPolicy {
	p := pipeline.DefaultRetryPolicy()
	p.MaxAttempts = c.retryMaxAttempts
	p.InitialDelay = c.retryInitialDelay
	p.MaxDelay = c.retryMaxDelay
	return p
}

func buildApp(ctx context.Context, cfg config) (*app, error) {
	reset, ok := playback.ParseResetPolicy(cfg.interruptReset)
	if !ok {
		return nil, fmt.Errorf("INTERRUPT_RESET: unknown policy %q", cfg.interruptReset)
	}
	script := prompts.NewScript(cfg.company)

	store := session.NewStore(session.Config{
		MaxHistoryLength:   cfg.maxHistoryLength,
		InterruptThreshold: cfg.interruptThreshold,
	})
	player := playback.New(store, playback.Config{
		ListenWindow:  cfg.listenWindow,
		GatherTimeout: cfg.gatherTimeout,
		Reset:         reset,
		Script:        script,
	})

	arch, err := openArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	writer := archive.NewWriter(arch, cfg.archiveBuffer)

	router := buildLLMRouter(cfg)
	stages := []pipeline.Stage{{Name: "knowledge", Responder: pipeline.NewKnowledgeResponder()}}
	if len(router.Engines()) > 0 {
		stages = append(stages, pipeline.Stage{Name: "llm", Responder: pipeline.NewLLMResponder(pipeline.LLMResponderConfig{
			Router:  router,
			Engine:  cfg.llmEngine,
			Company: cfg.company,
			Retry:   cfg.retryPolicy(),
		})})
	} else {
		slog.Warn("llm disabled (no credentials), answering from the knowledge base only")
	}
	chain := pipeline.NewChain(cfg.responderTimeout, pipeline.TopicFallback{}, stages...)

	coord := conversation.New(store, player, chain,
		pipeline.NewTerminationDetector(cfg.wholeWordClosings), writer,
		conversation.Config{
			Script:           script,
			ChunkLength:      cfg.chunkMaxLength,
			MaxAnswerLength:  cfg.maxAnswerLength,
			MinConfidence:    cfg.minConfidence,
			ResponderTimeout: cfg.responderTimeout,
			GatherTimeout:    cfg.gatherTimeout,
		})

	sweeper := session.NewSweeper(nil,
		session.SessionSweep(store, cfg.sessionSweepInterval, cfg.sessionTTL, coord.OnEvict),
		playback.SweepJob(player, cfg.responseSweepInterval, cfg.responseTTL),
	)

	return &app{
		store:   store,
		player:  player,
		coord:   coord,
		archive: writer,
		llm:     router,
		sweeper: sweeper,
	}, nil
}

func openArchive(ctx context.Context, cfg config) (archive.Store, error) {
	if cfg.databaseURL != "" {
		pg, err := archive.OpenPostgres(ctx, cfg.databaseURL, cfg.retryPolicy())
		if err != nil {
			return nil, fmt.Errorf("open archive database: %w", err)
		}
		slog.Info("archive enabled", "backend", "postgres")
		return pg, nil
	}
	fs, err := archive.NewFileStore(cfg.archiveDir)
	if err != nil {
		return nil, fmt.Errorf("open archive dir: %w", err)
	}
	slog.Info("archive enabled", "backend", "file", "dir", cfg.archiveDir)
	return fs, nil
}

// buildLLMRouter registers the chat engines the credentials allow. LLM_ENGINE
// picks the default.
func buildLLMRouter(cfg config) *pipeline.LLMRouter {
	router := pipeline.NewLLMRouter(nil, cfg.llmEngine)
	if !cfg.llmConfigured() {
		return router
	}

	if cfg.openaiConfigured() {
		router.Register("openai", pipeline.NewOpenAIEngine(pipeline.OpenAIConfig{
			APIKey:          cfg.openaiAPIKey,
			BaseURL:         cfg.openaiBaseURL,
			Model:           cfg.llmModel,
			AzureEndpoint:   cfg.azureEndpoint,
			AzureAPIKey:     cfg.azureAPIKey,
			AzureAPIVersion: cfg.azureAPIVersion,
			AzureDeployment: cfg.azureDeployment,
			MaxTokens:       cfg.llmMaxTokens,
			PoolSize:        cfg.llmPoolSize,
			Timeout:         cfg.responderTimeout,
		}))
	}
	if cfg.openaiAPIKey != "" {
		params := agents.OpenAIProviderParams{
			APIKey:       param.NewOpt(cfg.openaiAPIKey),
			UseResponses: param.NewOpt(false),
		}
		if cfg.openaiBaseURL != "" {
			params.BaseURL = param.NewOpt(cfg.openaiBaseURL)
		}
		router.Register("agents", pipeline.NewAgentEngine(agents.NewOpenAIProvider(params), cfg.llmModel, cfg.llmMaxTokens, nil))
	}
	if cfg.anthropicAPIKey != "" {
		router.Register("anthropic", pipeline.NewAnthropicEngine(cfg.anthropicAPIKey, cfg.anthropicURL,
			cfg.anthropicModel, cfg.llmMaxTokens, cfg.llmPoolSize, cfg.responderTimeout))
	}

	fallback := cfg.llmEngine
	if !router.Has(fallback) {
		fallback = router.Engines()[0]
		router.SetFallback(fallback)
		slog.Warn("LLM_ENGINE not configured, using fallback", "engine", cfg.llmEngine, "fallback", fallback)
	}
	slog.Info("llm enabled", "engines", router.Engines(), "default", fallback)
	return router
}

// close flushes the archive.
func (a *app) close() {
	if err := a.archive.Close(); err != nil {
		slog.Warn("archive close", "error", err)
	}
}
